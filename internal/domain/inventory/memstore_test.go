package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	"clinicstock/internal/core/event"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/patients"
)

type recordKey struct {
	center, drug id.ID
	period       calendar.Period
}

// memState is everything a transaction may change.
type memState struct {
	records    map[recordKey]MonthlyRecord
	log        []Transaction
	lots       []Lot
	deliveries []Delivery
	patients   map[id.ID]patients.Patient
	events     []event.Event
}

func (s memState) clone() memState {
	c := memState{
		records:    make(map[recordKey]MonthlyRecord, len(s.records)),
		log:        append([]Transaction(nil), s.log...),
		lots:       append([]Lot(nil), s.lots...),
		deliveries: append([]Delivery(nil), s.deliveries...),
		patients:   make(map[id.ID]patients.Patient, len(s.patients)),
		events:     append([]event.Event(nil), s.events...),
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	return c
}

// memStore is an in-memory ledger. Transactions are serialized by a single
// mutex and rolled back by restoring a snapshot.
type memStore struct {
	mu    sync.Mutex
	pmu   sync.RWMutex // guards patients, which are read outside transactions
	state memState
	drugs map[id.ID]DrugForm

	// failOn makes the named step fail inside the transaction.
	failOn string
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			records:  map[recordKey]MonthlyRecord{},
			patients: map[id.ID]patients.Patient{},
		},
		drugs: map[id.ID]DrugForm{},
	}
}

func (m *memStore) store() Store {
	return Store{Ledger: m, Log: m, Lots: memLots{m}, Deliveries: memDeliveries{m}, Drugs: m}
}

func (m *memStore) txManager() func(ctx context.Context, fn func(ctx context.Context) error) error {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pmu.RLock()
		snapshot := m.state.clone()
		m.pmu.RUnlock()
		if err := fn(ctx); err != nil {
			m.pmu.Lock()
			m.state = snapshot
			m.pmu.Unlock()
			return err
		}
		return nil
	}
}

func (m *memStore) fail(step string) error {
	if m.failOn == step {
		return apperror.NewInternal(nil).WithDetail("step", step)
	}
	return nil
}

func (m *memStore) addDrug(active bool) id.ID {
	d := DrugForm{ID: id.New(), Name: "Methadone", Strength: "5mg", Unit: "tablet", IsActive: active}
	m.drugs[d.ID] = d
	return d.ID
}

func (m *memStore) addPatient(centerID id.ID, created time.Time) id.ID {
	p := patients.Patient{
		ID:        id.New(),
		CenterID:  centerID,
		FirstName: "Ali",
		LastName:  "Rezaei",
		Status:    patients.StatusActive,
		CreatedAt: created,
	}
	m.state.patients[p.ID] = p
	return p.ID
}

func (m *memStore) setRecord(centerID, drugID id.ID, p calendar.Period, initial, purchased, delivered int64) {
	m.state.records[recordKey{centerID, drugID, p}] = MonthlyRecord{
		CenterID:       centerID,
		DrugFormID:     drugID,
		PeriodKey:      KeyOf(p),
		InitialStock:   initial,
		PurchasedStock: purchased,
		DeliveredStock: delivered,
		CurrentStock:   initial + purchased - delivered,
	}
}

func (m *memStore) record(centerID, drugID id.ID, p calendar.Period) (MonthlyRecord, bool) {
	r, ok := m.state.records[recordKey{centerID, drugID, p}]
	return r, ok
}

// LedgerRepository

func (m *memStore) latest(centerID, drugID id.ID) (MonthlyRecord, bool) {
	var (
		best  MonthlyRecord
		found bool
	)
	for k, r := range m.state.records {
		if k.center != centerID || k.drug != drugID {
			continue
		}
		if !found || best.Period().Before(k.period) {
			best, found = r, true
		}
	}
	return best, found
}

func (m *memStore) GetCurrentStock(ctx context.Context, centerID, drugID id.ID) (int64, error) {
	r, _ := m.latest(centerID, drugID)
	return r.CurrentStock, nil
}

func (m *memStore) LockStock(ctx context.Context, centerID, drugID id.ID) (int64, error) {
	if err := m.fail("lock"); err != nil {
		return 0, err
	}
	return m.GetCurrentStock(ctx, centerID, drugID)
}

func (m *memStore) GetRecord(ctx context.Context, centerID, drugID id.ID, p calendar.Period) (*MonthlyRecord, error) {
	r, ok := m.record(centerID, drugID, p)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) ApplyDelta(ctx context.Context, centerID, drugID id.ID, p calendar.Period, d Delta) (MonthlyRecord, error) {
	if err := m.fail("apply"); err != nil {
		return MonthlyRecord{}, err
	}
	key := recordKey{centerID, drugID, p}
	r, ok := m.state.records[key]
	if !ok {
		r = MonthlyRecord{CenterID: centerID, DrugFormID: drugID, PeriodKey: KeyOf(p)}
	}
	r = d.Apply(r)
	m.state.records[key] = r
	return r, nil
}

func (m *memStore) ListRecords(ctx context.Context, centerID, drugID id.ID) ([]MonthlyRecord, error) {
	var out []MonthlyRecord
	for k, r := range m.state.records {
		if k.center == centerID && k.drug == drugID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period().Before(out[j].Period()) })
	return out, nil
}

// TransactionLog

func (m *memStore) Append(ctx context.Context, t *Transaction) error {
	if err := m.fail("log"); err != nil {
		return err
	}
	m.state.log = append(m.state.log, *t)
	return nil
}

func (m *memStore) List(ctx context.Context, centerID id.ID, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for i := len(m.state.log) - 1; i >= 0; i-- {
		if m.state.log[i].CenterID == centerID {
			out = append(out, m.state.log[i])
		}
	}
	return out, nil
}

func (m *memStore) SumDeltas(ctx context.Context, centerID, drugID id.ID, through calendar.Period) (int64, error) {
	var sum int64
	for _, t := range m.state.log {
		if t.CenterID != centerID || t.DrugFormID != drugID {
			continue
		}
		if !through.IsZero() && through.Before(t.Period()) {
			continue
		}
		sum += t.Quantity
	}
	return sum, nil
}

// memLots and memDeliveries avoid the List name clash with TransactionLog.
type memLots struct{ *memStore }

func (l memLots) Create(ctx context.Context, lot *Lot) error {
	l.state.lots = append(l.state.lots, *lot)
	return nil
}

func (l memLots) List(ctx context.Context, centerID id.ID, filter LotFilter) ([]Lot, error) {
	var out []Lot
	for _, lot := range l.state.lots {
		if lot.CenterID == centerID {
			out = append(out, lot)
		}
	}
	return out, nil
}

type memDeliveries struct{ *memStore }

func (d memDeliveries) Create(ctx context.Context, del *Delivery) error {
	if err := d.fail("delivery"); err != nil {
		return err
	}
	d.state.deliveries = append(d.state.deliveries, *del)
	return nil
}

func (d memDeliveries) List(ctx context.Context, centerID id.ID, filter DeliveryFilter) ([]DeliveryView, error) {
	var out []DeliveryView
	for i := len(d.state.deliveries) - 1; i >= 0; i-- {
		if d.state.deliveries[i].CenterID == centerID {
			out = append(out, DeliveryView{Delivery: d.state.deliveries[i]})
		}
	}
	return out, nil
}

// DrugCatalog

func (m *memStore) GetDrugForm(ctx context.Context, drugID id.ID) (*DrugForm, error) {
	d, ok := m.drugs[drugID]
	if !ok {
		return nil, apperror.NewNotFound("drug_form", drugID)
	}
	return &d, nil
}

func (m *memStore) ListActive(ctx context.Context) ([]DrugForm, error) {
	var out []DrugForm
	for _, d := range m.drugs {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

// PatientDirectory

type memPatients struct{ *memStore }

func (p memPatients) GetByID(ctx context.Context, centerID, patientID id.ID) (*patients.Patient, error) {
	p.pmu.RLock()
	defer p.pmu.RUnlock()
	pt, ok := p.state.patients[patientID]
	if !ok || pt.CenterID != centerID {
		return nil, apperror.NewNotFound("patient", patientID)
	}
	return &pt, nil
}

func (p memPatients) AdvanceLastDelivery(ctx context.Context, patientID id.ID, at time.Time) error {
	if err := p.fail("patient"); err != nil {
		return err
	}
	p.pmu.Lock()
	defer p.pmu.Unlock()
	pt := p.state.patients[patientID]
	if pt.LastDeliveryDate == nil || pt.LastDeliveryDate.Before(at) {
		pt.LastDeliveryDate = &at
	}
	p.state.patients[patientID] = pt
	return nil
}

// event.Publisher

type memEvents struct{ *memStore }

func (e memEvents) Publish(ctx context.Context, ev event.Event) error {
	e.state.events = append(e.state.events, ev)
	return nil
}
