package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/pkg/courier"
	"gopkg.in/yaml.v3"
)

// AccountsFile is the YAML layout of the accounts file. Secret fields may
// reference environment variables as ${NAME}.
type AccountsFile struct {
	Tenants  map[string]TenantSpec `yaml:"tenants"`
	Accounts []AccountSpec         `yaml:"accounts"`
}

// TenantSpec holds per-tenant settings.
type TenantSpec struct {
	Policy shipment.Policy `yaml:"policy"`
}

// AccountSpec is one courier account.
type AccountSpec struct {
	ID       string            `yaml:"id"`
	Tenant   string            `yaml:"tenant"`
	Provider string            `yaml:"provider"`
	APIKey   string            `yaml:"api_key"`
	Secret   string            `yaml:"secret"`
	Token    string            `yaml:"token"`
	Settings map[string]string `yaml:"settings"`
}

// Directory is the loaded set of accounts and tenant policies.
type Directory struct {
	accounts map[string]courier.Account
	ordered  []courier.Account
	policies map[string]shipment.Policy
}

// LoadAccounts reads and validates an accounts file.
func LoadAccounts(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts decodes an accounts file, expanding ${NAME} references in
// secrets and settings.
func ParseAccounts(data []byte) (*Directory, error) {
	var f AccountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing accounts file: %w", err)
	}

	d := &Directory{
		accounts: make(map[string]courier.Account, len(f.Accounts)),
		policies: make(map[string]shipment.Policy, len(f.Tenants)),
	}
	for id, t := range f.Tenants {
		if t.Policy.NDRMaxAttempts < 0 {
			return nil, fmt.Errorf("tenant %s: ndr_max_attempts must not be negative", id)
		}
		d.policies[id] = t.Policy
	}

	var errs []error
	for i, a := range f.Accounts {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Errorf("account %d: id is required", i))
			continue
		case a.Tenant == "":
			errs = append(errs, fmt.Errorf("account %s: tenant is required", a.ID))
		case a.Provider == "":
			errs = append(errs, fmt.Errorf("account %s: provider is required", a.ID))
		}
		if _, dup := d.accounts[a.ID]; dup {
			errs = append(errs, fmt.Errorf("account %s: duplicate id", a.ID))
			continue
		}

		settings := make(map[string]string, len(a.Settings))
		for k, v := range a.Settings {
			settings[k] = os.ExpandEnv(v)
		}
		acct := courier.Account{
			ID:       a.ID,
			TenantID: a.Tenant,
			Provider: a.Provider,
			Credentials: courier.Credentials{
				APIKey:   os.ExpandEnv(a.APIKey),
				Secret:   os.ExpandEnv(a.Secret),
				Token:    os.ExpandEnv(a.Token),
				Settings: settings,
			},
		}
		d.accounts[a.ID] = acct
		d.ordered = append(d.ordered, acct)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return d, nil
}

// Account returns the account with id.
func (d *Directory) Account(id string) (courier.Account, bool) {
	a, ok := d.accounts[id]
	return a, ok
}

// AccountsFor returns a tenant's accounts in file order.
func (d *Directory) AccountsFor(tenantID string) []courier.Account {
	var out []courier.Account
	for _, a := range d.ordered {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out
}

// Accounts returns every account in file order.
func (d *Directory) Accounts() []courier.Account {
	return append([]courier.Account(nil), d.ordered...)
}

// Policy returns the tenant's policy, or the default policy.
func (d *Directory) Policy(tenantID string) shipment.Policy {
	if p, ok := d.policies[tenantID]; ok {
		return p
	}
	return shipment.DefaultPolicy()
}

// Tenants returns the tenants that have accounts or policies, sorted.
func (d *Directory) Tenants() []string {
	seen := make(map[string]bool)
	for id := range d.policies {
		seen[id] = true
	}
	for _, a := range d.ordered {
		seen[a.TenantID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
