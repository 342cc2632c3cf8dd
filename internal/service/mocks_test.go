package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// memStore is an in-memory stand-in for the sqlite layer, shared by the
// service tests. It implements just enough of each repository interface and
// keeps the same transactional semantics for the guarded transitions.
type memStore struct {
	mu sync.Mutex

	users     map[string]*model.User
	items     map[string]*model.MarketplaceItem
	instances map[string]*model.Instance
	logs      []*model.InstanceLog
	records   []*model.BillingRecord
	topUps    map[string]*model.CreditTopUp
	events    map[string]bool // provider + "/" + eventID
	referrals map[string]*model.Referral
	sshKeys   map[string]*model.SSHKey
	apiKeys   map[string]*model.APIKey
	quotes    map[string]*model.QuoteRequest
	methods   map[string]*model.PaymentMethod
	invoices  map[string]*model.Invoice
	usage     []*model.UsageRecord

	nextID int
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		items:     make(map[string]*model.MarketplaceItem),
		instances: make(map[string]*model.Instance),
		topUps:    make(map[string]*model.CreditTopUp),
		events:    make(map[string]bool),
		referrals: make(map[string]*model.Referral),
		sshKeys:   make(map[string]*model.SSHKey),
		apiKeys:   make(map[string]*model.APIKey),
		quotes:    make(map[string]*model.QuoteRequest),
		methods:   make(map[string]*model.PaymentMethod),
		invoices:  make(map[string]*model.Invoice),
	}
}

func (m *memStore) id() string {
	m.nextID++
	return fmt.Sprintf("id-%03d", m.nextID)
}

// ---- users ----

func (m *memStore) CreateUser(_ context.Context, user *model.User, welcome *model.BillingRecord, referral *model.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperror.Conflict("An account with this email already exists.")
		}
	}
	if user.ID == "" {
		user.ID = m.id()
	}
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	if welcome != nil {
		welcome.ID = m.id()
		welcome.UserID = user.ID
		welcome.CreatedAt = user.CreatedAt
		m.records = append(m.records, welcome)
	}
	if referral != nil {
		referral.ID = m.id()
		referral.ReferredID = user.ID
		referral.Status = model.ReferralPending
		m.referrals[referral.ID] = referral
	}
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("User")
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperror.NotFound("User")
}

func (m *memStore) GetUserByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if googleID != "" {
		for _, u := range m.users {
			if u.GoogleID == googleID {
				return u, nil
			}
		}
	}
	return nil, apperror.NotFound("User")
}

func (m *memStore) GetUserByReferralCode(_ context.Context, code string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return nil, apperror.NotFound("User")
}

func (m *memStore) UpdateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return apperror.NotFound("User")
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperror.NotFound("User")
	}
	u.PasswordHash = hash
	return nil
}

func (m *memStore) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperror.NotFound("User")
	}
	if u.EmailVerifiedAt == nil {
		u.EmailVerifiedAt = &at
	}
	return nil
}

// ---- marketplace ----

func (m *memStore) addItem(item *model.MarketplaceItem) *model.MarketplaceItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = m.id()
	}
	m.items[item.ID] = item
	return item
}

func (m *memStore) ListMarketplaceItems(_ context.Context, filter repository.MarketplaceFilter) ([]*model.MarketplaceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.MarketplaceItem
	for _, it := range m.items {
		if filter.GPUType != "" && it.GPUType != filter.GPUType {
			continue
		}
		if filter.Region != "" && it.Region != filter.Region {
			continue
		}
		if filter.Provider != "" && it.Provider != filter.Provider {
			continue
		}
		if filter.MinVRAM > 0 && it.VRAMGb < filter.MinVRAM {
			continue
		}
		if filter.Available && it.Availability <= 0 {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *memStore) GetItemByID(_ context.Context, id string) (*model.MarketplaceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("Marketplace item")
	}
	return it, nil
}

func (m *memStore) GetItemBySlug(_ context.Context, slug string) (*model.MarketplaceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.Slug == slug {
			return it, nil
		}
	}
	return nil, apperror.NotFound("Marketplace item")
}

// ---- instances ----

func (m *memStore) DeployInstance(_ context.Context, params repository.DeployParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := params.Instance
	item, ok := m.items[inst.MarketplaceItemID]
	if !ok {
		return apperror.NotFound("Marketplace item")
	}
	if item.Availability <= 0 {
		return apperror.Conflict("This configuration is currently out of capacity. Please try again later.")
	}
	user, ok := m.users[inst.UserID]
	if !ok {
		return apperror.NotFound("User")
	}
	if user.CreditBalance.LessThan(params.CostPerHour) {
		return apperror.PaymentRequired("Insufficient credits. Please top up your balance to deploy this instance.")
	}

	item.Availability--
	user.CreditBalance = user.CreditBalance.Sub(params.CostPerHour)
	if inst.ID == "" {
		inst.ID = m.id()
	}
	inst.CreatedAt = time.Now().UTC()
	m.instances[inst.ID] = inst
	m.records = append(m.records, &model.BillingRecord{
		ID:           m.id(),
		UserID:       inst.UserID,
		InstanceID:   &inst.ID,
		Type:         model.BillingDebit,
		Amount:       params.CostPerHour.Neg(),
		Currency:     "USD",
		BalanceAfter: user.CreditBalance,
		CreatedAt:    inst.CreatedAt,
	})
	m.logs = append(m.logs, &model.InstanceLog{
		ID: m.id(), InstanceID: inst.ID, Level: model.LogInfo, Message: params.LogMessage,
	})
	return nil
}

func (m *memStore) GetInstance(_ context.Context, userID, id string) (*model.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.UserID != userID {
		return nil, apperror.NotFound("Instance")
	}
	// Callers mutate the result before writing it back; hand out a copy so
	// the status guards below still see the stored state.
	cp := *inst
	return &cp, nil
}

func (m *memStore) ListInstances(_ context.Context, userID string) ([]*model.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Instance
	for _, inst := range m.instances {
		if inst.UserID == userID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (m *memStore) CountInstances(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, inst := range m.instances {
		if inst.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) UpdateInstanceStatus(_ context.Context, inst *model.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.ID]; !ok {
		return apperror.NotFound("Instance")
	}
	m.instances[inst.ID] = inst
	return nil
}

func (m *memStore) TerminateInstance(_ context.Context, inst *model.Instance, logMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.instances[inst.ID]
	if !ok || stored.UserID != inst.UserID {
		return apperror.NotFound("Instance")
	}
	if stored.Status == model.StatusTerminated {
		return apperror.Conflict("This instance is already terminated.")
	}
	m.instances[inst.ID] = inst
	if item, ok := m.items[inst.MarketplaceItemID]; ok {
		item.Availability++
	}
	m.logs = append(m.logs, &model.InstanceLog{
		ID: m.id(), InstanceID: inst.ID, Level: model.LogWarn, Message: logMessage,
	})
	return nil
}

func (m *memStore) AppendInstanceLog(_ context.Context, log *model.InstanceLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == "" {
		log.ID = m.id()
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *memStore) ListInstanceLogs(_ context.Context, userID, instanceID string) ([]*model.InstanceLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok || inst.UserID != userID {
		return nil, apperror.NotFound("Instance")
	}
	var out []*model.InstanceLog
	for _, l := range m.logs {
		if l.InstanceID == instanceID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ---- billing ----

func (m *memStore) ListBillingRecords(_ context.Context, userID string, limit int) ([]*model.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BillingRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) LatestBalanceAfter(_ context.Context, userID string) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			return m.records[i].BalanceAfter, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func (m *memStore) SumBillingByTypeSince(_ context.Context, userID string, kind model.BillingType, since time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, r := range m.records {
		if r.UserID == userID && r.Type == kind && !r.CreatedAt.Before(since) {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

// ---- credits ----

func (m *memStore) CreateTopUp(_ context.Context, t *model.CreditTopUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = m.id()
	}
	t.CreatedAt = time.Now().UTC()
	m.topUps[t.ID] = t
	return nil
}

func (m *memStore) GetTopUpByID(_ context.Context, userID, id string) (*model.CreditTopUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topUps[id]
	if !ok || t.UserID != userID {
		return nil, apperror.NotFound("Top-up")
	}
	return t, nil
}

func (m *memStore) GetTopUpBySessionID(_ context.Context, sessionID string) (*model.CreditTopUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.topUps {
		if t.ProviderSessionID == sessionID {
			return t, nil
		}
	}
	return nil, apperror.NotFound("Top-up")
}

func (m *memStore) ListTopUps(_ context.Context, userID string) ([]*model.CreditTopUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CreditTopUp
	for _, t := range m.topUps {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) CancelTopUp(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topUps[id]
	if !ok || t.UserID != userID {
		return apperror.NotFound("Top-up")
	}
	if t.Status != model.TopUpPending {
		return apperror.Conflict("This top-up has already been settled and can no longer be canceled.")
	}
	t.Status = model.TopUpCanceled
	return nil
}

func (m *memStore) FinalizeTopUp(_ context.Context, fin repository.TopUpFinalization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fin.Event.Provider + "/" + fin.Event.EventID
	if m.events[key] {
		return repository.ErrDuplicateEvent
	}
	m.events[key] = true

	var topUp *model.CreditTopUp
	for _, t := range m.topUps {
		if t.ProviderSessionID == fin.SessionID {
			topUp = t
			break
		}
	}
	if topUp == nil {
		return nil
	}
	if fin.Credit {
		if topUp.Status == model.TopUpCompleted {
			return nil
		}
	} else if topUp.Status != model.TopUpPending {
		return nil
	}
	topUp.Status = fin.FinalStatus
	if !fin.Credit {
		return nil
	}
	user := m.users[topUp.UserID]
	user.CreditBalance = user.CreditBalance.Add(topUp.AmountUSD)
	m.records = append(m.records, &model.BillingRecord{
		ID: m.id(), UserID: user.ID, Type: model.BillingCredit,
		Amount: topUp.AmountUSD, Currency: "USD",
		BalanceAfter: user.CreditBalance, CreatedAt: time.Now().UTC(),
	})
	return nil
}

// ---- referrals ----

func (m *memStore) ListReferrals(_ context.Context, referrerID string) ([]*model.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Referral
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetPendingReferralByReferred(_ context.Context, referredID string) (*model.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.ReferredID == referredID && r.Status == model.ReferralPending {
			return r, nil
		}
	}
	return nil, apperror.NotFound("Referral")
}

func (m *memStore) RewardReferral(_ context.Context, referralID string, amount decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[referralID]
	if !ok || r.Status != model.ReferralPending {
		return nil
	}
	r.Status = model.ReferralRewarded
	r.RewardAmount = amount
	r.RewardTriggeredAt = &at
	referrer := m.users[r.ReferrerID]
	referrer.CreditBalance = referrer.CreditBalance.Add(amount)
	m.records = append(m.records, &model.BillingRecord{
		ID: m.id(), UserID: referrer.ID, Type: model.BillingReferralReward,
		Amount: amount, Currency: "USD",
		BalanceAfter: referrer.CreditBalance, CreatedAt: at,
	})
	return nil
}

// ---- ssh keys ----

func (m *memStore) CreateSSHKey(_ context.Context, key *model.SSHKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = m.id()
	}
	key.CreatedAt = time.Now().UTC()
	m.sshKeys[key.ID] = key
	return nil
}

func (m *memStore) ListSSHKeys(_ context.Context, userID string) ([]*model.SSHKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SSHKey
	for _, k := range m.sshKeys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) GetSSHKey(_ context.Context, userID, id string) (*model.SSHKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.sshKeys[id]
	if !ok || k.UserID != userID {
		return nil, apperror.NotFound("SSH key")
	}
	return k, nil
}

func (m *memStore) RenameSSHKey(_ context.Context, userID, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.sshKeys[id]
	if !ok || k.UserID != userID {
		return apperror.NotFound("SSH key")
	}
	k.Name = name
	return nil
}

func (m *memStore) DeleteSSHKey(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.sshKeys[id]
	if !ok || k.UserID != userID {
		return apperror.NotFound("SSH key")
	}
	delete(m.sshKeys, id)
	return nil
}

func (m *memStore) SSHKeyFingerprintExists(_ context.Context, userID, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.sshKeys {
		if k.UserID == userID && k.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

// ---- api keys ----

func (m *memStore) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = m.id()
	}
	key.CreatedAt = time.Now().UTC()
	m.apiKeys[key.ID] = key
	return nil
}

func (m *memStore) ListAPIKeys(_ context.Context, userID string) ([]*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) DeleteAPIKey(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.UserID != userID {
		return apperror.NotFound("API key")
	}
	delete(m.apiKeys, id)
	return nil
}

// ---- quotes ----

func (m *memStore) CreateQuote(_ context.Context, q *model.QuoteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == "" {
		q.ID = m.id()
	}
	q.CreatedAt = time.Now().UTC()
	m.quotes[q.ID] = q
	return nil
}

func (m *memStore) ListQuotes(_ context.Context, userID string) ([]*model.QuoteRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.QuoteRequest
	for _, q := range m.quotes {
		if q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memStore) WithdrawQuote(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok || q.UserID != userID {
		return apperror.NotFound("Quote request")
	}
	if q.Status != model.QuotePending {
		return apperror.Conflict("This quote has already been reviewed and can no longer be withdrawn.")
	}
	q.Status = model.QuoteWithdrawn
	return nil
}

// ---- payment methods ----

func (m *memStore) CreatePaymentMethod(_ context.Context, pm *model.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm.ID == "" {
		pm.ID = m.id()
	}
	count := 0
	for _, other := range m.methods {
		if other.UserID == pm.UserID {
			count++
		}
	}
	if count == 0 {
		pm.IsDefault = true
	}
	pm.CreatedAt = time.Now().UTC()
	m.methods[pm.ID] = pm
	return nil
}

func (m *memStore) ListPaymentMethods(_ context.Context, userID string) ([]*model.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentMethod
	for _, pm := range m.methods {
		if pm.UserID == userID {
			out = append(out, pm)
		}
	}
	return out, nil
}

func (m *memStore) GetPaymentMethod(_ context.Context, userID, id string) (*model.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok || pm.UserID != userID {
		return nil, apperror.NotFound("Payment method")
	}
	return pm, nil
}

func (m *memStore) SetDefaultPaymentMethod(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.methods[id]
	if !ok || target.UserID != userID {
		return apperror.NotFound("Payment method")
	}
	for _, pm := range m.methods {
		if pm.UserID == userID {
			pm.IsDefault = pm.ID == id
		}
	}
	return nil
}

func (m *memStore) DeletePaymentMethod(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok || pm.UserID != userID {
		return apperror.NotFound("Payment method")
	}
	delete(m.methods, id)
	return nil
}

// ---- invoices ----

func (m *memStore) CreateInvoice(_ context.Context, inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = m.id()
	}
	m.invoices[inv.ID] = inv
	return nil
}

func (m *memStore) ListInvoices(_ context.Context, userID string) ([]*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Invoice
	for _, inv := range m.invoices {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) RecordUsage(_ context.Context, record *model.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	if cp.ID == "" {
		cp.ID = m.id()
	}
	m.usage = append(m.usage, &cp)
	return nil
}

func (m *memStore) ListUsageSince(_ context.Context, userID string, since time.Time) ([]*model.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UsageRecord
	for _, r := range m.usage {
		if r.UserID == userID && !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Interface conformance checks.
var (
	_ repository.UserRepository          = (*memStore)(nil)
	_ repository.MarketplaceRepository   = (*memStore)(nil)
	_ repository.InstanceRepository      = (*memStore)(nil)
	_ repository.BillingRepository       = (*memStore)(nil)
	_ repository.CreditRepository        = (*memStore)(nil)
	_ repository.ReferralRepository      = (*memStore)(nil)
	_ repository.SSHKeyRepository        = (*memStore)(nil)
	_ repository.APIKeyRepository        = (*memStore)(nil)
	_ repository.QuoteRepository         = (*memStore)(nil)
	_ repository.PaymentMethodRepository = (*memStore)(nil)
	_ repository.InvoiceRepository       = (*memStore)(nil)
	_ repository.UsageRepository         = (*memStore)(nil)
)
