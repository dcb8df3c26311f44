package main

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// AccountStore backs the persisted accounts table (spec §6 "Persisted
// state layout": accounts{name, password_hash, email, salt, iterations,
// certfp, metadata}). A minimal KV/table interface per spec §1's
// explicit scoping of the database out of the hard core; SQLite is the
// concrete driver (see SPEC_FULL.md DOMAIN STACK).
type AccountStore struct {
	mu sync.RWMutex
	db *sql.DB

	// in-memory copy of every account, always kept; all lookups read this
	// map, and db (when a path is configured) is written to but never read
	// back.
	mem map[string]*accountRecord
}

type accountRecord struct {
	Name           string
	PasswordHash   string // bcrypt
	Email          string
	Salt           string
	Iterations     int
	SaltedPassword []byte
	CertFP         string
}

func NewAccountStore(path string) (*AccountStore, error) {
	s := &AccountStore{mem: make(map[string]*accountRecord)}
	if path == "" {
		return s, nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open accounts database")
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS accounts (
		name TEXT PRIMARY KEY,
		password_hash TEXT,
		email TEXT,
		salt TEXT,
		iterations INTEGER,
		certfp TEXT,
		metadata TEXT
	)`)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create accounts table")
	}
	s.db = db
	return s, nil
}

// Exists reports whether an account is already registered, so callers can
// return ERR_ACCOUNT_ALREADY_EXISTS-style rejections before Register would
// otherwise leave the SQLite insert and in-memory map disagreeing.
func (s *AccountStore) Exists(name string) bool {
	return s.lookup(name) != nil
}

func (s *AccountStore) Register(name, password, email string) error {
	if s.Exists(name) {
		return errors.New("account already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "unable to hash password")
	}

	saltBytes := make([]byte, 16)
	_, _ = rand.Read(saltBytes)
	salt := base64.StdEncoding.EncodeToString(saltBytes)
	iterations := 4096
	salted := deriveSaltedPassword(password, salt, iterations)

	rec := &accountRecord{
		Name: name, PasswordHash: string(hash), Email: email,
		Salt: salt, Iterations: iterations, SaltedPassword: salted,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_, err := s.db.Exec(
			`INSERT INTO accounts(name,password_hash,email,salt,iterations) VALUES (?,?,?,?,?)`,
			name, rec.PasswordHash, email, salt, iterations)
		if err != nil {
			return errors.Wrap(err, "unable to insert account")
		}
	}
	s.mem[name] = rec
	return nil
}

func (s *AccountStore) VerifyPassword(name, password string) (string, bool) {
	rec := s.lookup(name)
	if rec == nil {
		return "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return "", false
	}
	return rec.Name, true
}

func (s *AccountStore) VerifyCertFP(certfp string) (string, bool) {
	if certfp == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.mem {
		if subtle.ConstantTimeCompare([]byte(rec.CertFP), []byte(certfp)) == 1 && rec.CertFP != "" {
			return rec.Name, true
		}
	}
	return "", false
}

func (s *AccountStore) ScramParams(name string) (salt string, iterations int, ok bool) {
	rec := s.lookup(name)
	if rec == nil {
		return "", 0, false
	}
	return rec.Salt, rec.Iterations, true
}

func (s *AccountStore) SaltedPassword(name string) ([]byte, bool) {
	rec := s.lookup(name)
	if rec == nil {
		return nil, false
	}
	return rec.SaltedPassword, true
}

func (s *AccountStore) lookup(name string) *accountRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mem[name]
}

var _ = sha256.Size
