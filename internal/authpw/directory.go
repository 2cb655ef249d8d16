// Package authpw provides password sign-in for reviewers listed in a YAML
// directory file.
package authpw

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"docgate/internal/rbac"
)

const minPasswordLength = 10

var ErrInvalidCredentials = errors.New("invalid name or password")

// Account is one reviewer entry.
type Account struct {
	Name         string    `yaml:"name"`
	Role         rbac.Role `yaml:"role"`
	PasswordHash string    `yaml:"password_hash"`
	Disabled     bool      `yaml:"disabled"`
}

// Directory holds reviewer accounts keyed by lowercased name.
type Directory struct {
	accounts map[string]Account
}

// dummyHash keeps the cost of a lookup miss equal to a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("docgate-unknown-reviewer"), bcrypt.DefaultCost)

func NewDirectory(accounts []Account) (*Directory, error) {
	d := &Directory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if key == "" {
			return nil, errors.New("reviewer name is required")
		}
		if _, dup := d.accounts[key]; dup {
			return nil, fmt.Errorf("duplicate reviewer %q", a.Name)
		}
		if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
			return nil, fmt.Errorf("reviewer %q: invalid password hash", a.Name)
		}
		a.Name = strings.TrimSpace(a.Name)
		a.Role = rbac.Normalize(string(a.Role))
		d.accounts[key] = a
	}
	return d, nil
}

// LoadDirectory reads a file of the form
//
//	reviewers:
//	  - name: avery
//	    role: reviewer
//	    password_hash: $2a$10$...
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reviewer directory: %w", err)
	}
	var doc struct {
		Reviewers []Account `yaml:"reviewers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse reviewer directory: %w", err)
	}
	return NewDirectory(doc.Reviewers)
}

// SignIn checks a name and password. Unknown names, disabled accounts and
// wrong passwords all return ErrInvalidCredentials.
func (d *Directory) SignIn(name, password string) (Account, error) {
	if strings.TrimSpace(name) == "" || password == "" {
		return Account{}, errors.New("name and password are required")
	}
	account, ok := d.accounts[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	if account.Disabled {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func (d *Directory) Len() int {
	return len(d.accounts)
}

// HashPassword produces a hash for the directory file.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
