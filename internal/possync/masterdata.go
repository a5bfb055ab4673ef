package possync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/possync/internal/feed"
)

// MasterDataConfig tunes employee creation.
type MasterDataConfig struct {
	EmployeeRole         string
	SyntheticEmailDomain string
}

// MasterDataReconciler upserts stores, employees, taxes, categories and
// customers by remote id.
type MasterDataReconciler struct {
	repo MasterDataRepository
	cfg  MasterDataConfig
}

// NewMasterDataReconciler builds a MasterDataReconciler.
func NewMasterDataReconciler(repo MasterDataRepository, cfg MasterDataConfig) *MasterDataReconciler {
	if cfg.EmployeeRole == "" {
		cfg.EmployeeRole = "Cashier"
	}
	if cfg.SyntheticEmailDomain == "" {
		cfg.SyntheticEmailDomain = "possync.local"
	}
	return &MasterDataReconciler{repo: repo, cfg: cfg}
}

// Reconcile runs every master-data entity type in dependency order. A failure
// to load one entity type is recorded and the remaining types still run.
func (m *MasterDataReconciler) Reconcile(ctx context.Context, rc *RunContext, snap feed.Snapshot) {
	steps := []struct {
		entity string
		run    func() error
	}{
		{EntityStore, func() error { return m.ReconcileStores(ctx, rc, snap.Stores) }},
		{EntityEmployee, func() error { return m.ReconcileEmployees(ctx, rc, snap.Employees) }},
		{EntityTax, func() error { return m.ReconcileTaxes(ctx, rc, snap.Taxes) }},
		{EntityCategory, func() error { return m.ReconcileCategories(ctx, rc, snap.Categories) }},
		{EntityCustomer, func() error { return m.ReconcileCustomers(ctx, rc, snap.Customers) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			rc.fail(step.entity, "", "master data load failed", err)
		}
	}
}

// ReconcileStores creates unknown stores and renames changed ones. A
// soft-deleted placeholder made for a receipt is restored once the store
// shows up in the feed.
func (m *MasterDataReconciler) ReconcileStores(ctx context.Context, rc *RunContext, records []feed.StoreRecord) error {
	existing, err := m.repo.ListStores(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list stores: %w", err)
	}
	local := make(map[string]Store, len(existing))
	for _, s := range existing {
		if s.RemoteID != "" {
			local[s.RemoteID] = s
		}
	}
	for _, rec := range records {
		current, ok := local[rec.ID]
		if !ok {
			created, err := m.repo.CreateStore(ctx, Store{
				ProfileID: rc.ProfileID,
				Name:      rec.Name,
				Address:   rec.Address,
				IsShop:    true,
				RemoteID:  rec.ID,
			})
			if err != nil {
				rc.fail(EntityStore, rec.ID, "create store failed", err)
				continue
			}
			local[rec.ID] = created
			rc.Report.Record(EntityStore, rec.ID, OutcomeCreated, nil)
			continue
		}
		if current.Name == rec.Name && !current.IsDeleted {
			rc.Report.Record(EntityStore, rec.ID, OutcomeUnchanged, nil)
			continue
		}
		if current.IsDeleted {
			rc.Logger.Info("placeholder store restored", slog.String("store", rec.ID), slog.Int64("store_id", current.ID))
			current.IsDeleted = false
			current.DeletedDate = nil
			if current.Address == "" {
				current.Address = rec.Address
			}
		}
		current.Name = rec.Name
		if err := m.repo.UpdateStore(ctx, current); err != nil {
			rc.fail(EntityStore, rec.ID, "update store failed", err)
			continue
		}
		local[rec.ID] = current
		rc.Report.Record(EntityStore, rec.ID, OutcomeUpdated, nil)
	}
	return nil
}

// ReconcileEmployees creates unknown employees and grants store access as a
// set union with the remote store list. Access is never revoked here.
func (m *MasterDataReconciler) ReconcileEmployees(ctx context.Context, rc *RunContext, records []feed.EmployeeRecord) error {
	stores, err := m.repo.ListStores(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list stores: %w", err)
	}
	storeIDs := storeIndex(stores)
	existing, err := m.repo.ListEmployees(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list employees: %w", err)
	}
	local := make(map[string]User, len(existing))
	for _, u := range existing {
		if u.RemoteEmployeeID != "" {
			local[u.RemoteEmployeeID] = u
		}
	}

	for _, rec := range records {
		desired := make([]int64, 0, len(rec.StoreIDs))
		for _, remote := range rec.StoreIDs {
			id, ok := storeIDs[remote]
			if !ok {
				rc.Logger.Debug("employee store not found", slog.String("employee", rec.ID), slog.String("store", remote))
				continue
			}
			desired = append(desired, id)
		}

		user, ok := local[rec.ID]
		outcome := OutcomeUnchanged
		if !ok {
			hash, err := unusablePassword()
			if err != nil {
				rc.fail(EntityEmployee, rec.ID, "hash password failed", err)
				continue
			}
			email := strings.TrimSpace(rec.Email)
			if email == "" {
				email = syntheticEmail(rec.ID, m.cfg.SyntheticEmailDomain)
			}
			homeStore := ""
			if len(rec.StoreIDs) > 0 {
				homeStore = rec.StoreIDs[0]
			}
			user, err = m.repo.CreateEmployee(ctx, User{
				ProfileID:        rc.ProfileID,
				Name:             rec.Name,
				Email:            email,
				Phone:            rec.PhoneNumber,
				PasswordHash:     hash,
				RemoteEmployeeID: rec.ID,
				RemoteStoreID:    homeStore,
				Role:             m.cfg.EmployeeRole,
			})
			if err != nil {
				rc.fail(EntityEmployee, rec.ID, "create employee failed", err)
				continue
			}
			outcome = OutcomeCreated
		}

		missing := missingIDs(user.StoreIDs, desired)
		if len(missing) > 0 {
			if err := m.repo.AddUserStores(ctx, user.ID, missing); err != nil {
				rc.fail(EntityEmployee, rec.ID, "grant store access failed", err)
				continue
			}
			user.StoreIDs = append(user.StoreIDs, missing...)
			if outcome == OutcomeUnchanged {
				outcome = OutcomeUpdated
			}
		}
		local[rec.ID] = user
		rc.Report.Record(EntityEmployee, rec.ID, outcome, nil)
	}
	return nil
}

// ReconcileTaxes creates unknown taxes and updates name or rate changes.
func (m *MasterDataReconciler) ReconcileTaxes(ctx context.Context, rc *RunContext, records []feed.TaxRecord) error {
	existing, err := m.repo.ListTaxes(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list taxes: %w", err)
	}
	local := make(map[string]Tax, len(existing))
	for _, t := range existing {
		if t.RemoteID != "" {
			local[t.RemoteID] = t
		}
	}
	for _, rec := range records {
		current, ok := local[rec.ID]
		if !ok {
			created, err := m.repo.CreateTax(ctx, Tax{ProfileID: rc.ProfileID, Name: rec.Name, Rate: rec.Rate, RemoteID: rec.ID})
			if err != nil {
				rc.fail(EntityTax, rec.ID, "create tax failed", err)
				continue
			}
			local[rec.ID] = created
			rc.Report.Record(EntityTax, rec.ID, OutcomeCreated, nil)
			continue
		}
		if current.Name == rec.Name && current.Rate.Equal(rec.Rate) {
			rc.Report.Record(EntityTax, rec.ID, OutcomeUnchanged, nil)
			continue
		}
		current.Name = rec.Name
		current.Rate = rec.Rate
		if err := m.repo.UpdateTax(ctx, current); err != nil {
			rc.fail(EntityTax, rec.ID, "update tax failed", err)
			continue
		}
		local[rec.ID] = current
		rc.Report.Record(EntityTax, rec.ID, OutcomeUpdated, nil)
	}
	return nil
}

// ReconcileCategories creates unknown categories and renames changed ones.
func (m *MasterDataReconciler) ReconcileCategories(ctx context.Context, rc *RunContext, records []feed.CategoryRecord) error {
	existing, err := m.repo.ListCategories(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list categories: %w", err)
	}
	local := make(map[string]Category, len(existing))
	for _, c := range existing {
		if c.RemoteID != "" {
			local[c.RemoteID] = c
		}
	}
	for _, rec := range records {
		current, ok := local[rec.ID]
		if !ok {
			created, err := m.repo.CreateCategory(ctx, Category{ProfileID: rc.ProfileID, Name: rec.Name, RemoteID: rec.ID})
			if err != nil {
				rc.fail(EntityCategory, rec.ID, "create category failed", err)
				continue
			}
			local[rec.ID] = created
			rc.Report.Record(EntityCategory, rec.ID, OutcomeCreated, nil)
			continue
		}
		if current.Name == rec.Name {
			rc.Report.Record(EntityCategory, rec.ID, OutcomeUnchanged, nil)
			continue
		}
		current.Name = rec.Name
		if err := m.repo.UpdateCategory(ctx, current); err != nil {
			rc.fail(EntityCategory, rec.ID, "update category failed", err)
			continue
		}
		local[rec.ID] = current
		rc.Report.Record(EntityCategory, rec.ID, OutcomeUpdated, nil)
	}
	return nil
}

// ReconcileCustomers creates unknown customers and updates contact changes.
func (m *MasterDataReconciler) ReconcileCustomers(ctx context.Context, rc *RunContext, records []feed.CustomerRecord) error {
	existing, err := m.repo.ListCustomers(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list customers: %w", err)
	}
	local := make(map[string]Customer, len(existing))
	for _, c := range existing {
		if c.RemoteID != "" {
			local[c.RemoteID] = c
		}
	}
	for _, rec := range records {
		desired := Customer{
			ProfileID:    rc.ProfileID,
			Name:         rec.Name,
			Email:        rec.Email,
			Phone:        rec.PhoneNumber,
			CustomerCode: rec.CustomerCode,
			RemoteID:     rec.ID,
		}
		current, ok := local[rec.ID]
		if !ok {
			created, err := m.repo.CreateCustomer(ctx, desired)
			if err != nil {
				rc.fail(EntityCustomer, rec.ID, "create customer failed", err)
				continue
			}
			local[rec.ID] = created
			rc.Report.Record(EntityCustomer, rec.ID, OutcomeCreated, nil)
			continue
		}
		if current.Name == desired.Name && current.Email == desired.Email &&
			current.Phone == desired.Phone && current.CustomerCode == desired.CustomerCode {
			rc.Report.Record(EntityCustomer, rec.ID, OutcomeUnchanged, nil)
			continue
		}
		desired.ID = current.ID
		if err := m.repo.UpdateCustomer(ctx, desired); err != nil {
			rc.fail(EntityCustomer, rec.ID, "update customer failed", err)
			continue
		}
		local[rec.ID] = desired
		rc.Report.Record(EntityCustomer, rec.ID, OutcomeUpdated, nil)
	}
	return nil
}

func storeIndex(stores []Store) map[string]int64 {
	out := make(map[string]int64, len(stores))
	for _, s := range stores {
		if s.RemoteID != "" {
			out[s.RemoteID] = s.ID
		}
	}
	return out
}

// missingIDs returns the members of want absent from have, in want order.
func missingIDs(have, want []int64) []int64 {
	seen := make(map[int64]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	var out []int64
	for _, id := range want {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func syntheticEmail(remoteID, domain string) string {
	return strings.ToLower(strings.TrimSpace(remoteID)) + "@" + domain
}

// unusablePassword hashes a random secret nobody knows, so synced accounts
// cannot sign in until a password is set locally.
func unusablePassword() (string, error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
