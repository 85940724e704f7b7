package replication

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ReplicaSet names the nodes holding one user's data.
type ReplicaSet struct {
	Primary     string   `yaml:"primary" json:"primary"`
	Secondaries []string `yaml:"secondaries" json:"secondaries"`
	Wallet      string   `yaml:"wallet" json:"wallet"`
}

// ConfigError reports unusable replica-set data for one user. It fails that
// user's reconciliation only.
type ConfigError struct {
	UserID int64
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("replica set for user %d: %s", e.UserID, e.Reason)
	}
	return fmt.Sprintf("replica set for user %d: %s: %s", e.UserID, e.Field, e.Reason)
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidateEndpoint checks that ep is an absolute http(s) URL with a host.
func ValidateEndpoint(ep string) error {
	if ep == "" {
		return errors.New("empty endpoint")
	}
	u, err := url.Parse(ep)
	if err != nil {
		return fmt.Errorf("malformed endpoint %q: %w", ep, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("malformed endpoint %q: scheme must be http or https", ep)
	}
	if u.Host == "" {
		return fmt.Errorf("malformed endpoint %q: missing host", ep)
	}
	return nil
}

// validate checks the fields every secondary needs: a wallet and a usable
// primary. Secondary endpoints are checked one by one by the caller so a bad
// entry fails only that pair.
func (s ReplicaSet) validate(userID int64) error {
	if s.Wallet == "" {
		return &ConfigError{UserID: userID, Field: "wallet", Reason: "missing"}
	}
	if err := ValidateEndpoint(s.Primary); err != nil {
		return &ConfigError{UserID: userID, Field: "primary", Reason: err.Error()}
	}
	return nil
}

func (s ReplicaSet) clone() ReplicaSet {
	s.Secondaries = slices.Clone(s.Secondaries)
	return s
}

// ArenaEntry is one user's row in a replica-set file.
type ArenaEntry struct {
	UserID      int64    `yaml:"user_id" json:"user_id"`
	Primary     string   `yaml:"primary" json:"primary"`
	Secondaries []string `yaml:"secondaries" json:"secondaries"`
	Wallet      string   `yaml:"wallet" json:"wallet"`
}

// Arena is an immutable userID → ReplicaSet lookup for one run.
// The zero value is an empty arena.
type Arena struct {
	sets map[int64]ReplicaSet
}

// NewArena builds an arena. A user listed twice is an error.
func NewArena(entries []ArenaEntry) (Arena, error) {
	sets := make(map[int64]ReplicaSet, len(entries))
	for _, e := range entries {
		if _, dup := sets[e.UserID]; dup {
			return Arena{}, fmt.Errorf("arena: user %d listed twice", e.UserID)
		}
		sets[e.UserID] = ReplicaSet{
			Primary:     e.Primary,
			Secondaries: slices.Clone(e.Secondaries),
			Wallet:      e.Wallet,
		}
	}
	return Arena{sets: sets}, nil
}

// LoadArena reads a replica-set file: a YAML (or JSON) list of entries with
// keys user_id, primary, secondaries and wallet.
func LoadArena(path string) (Arena, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Arena{}, fmt.Errorf("load arena: %w", err)
	}
	var entries []ArenaEntry
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return Arena{}, fmt.Errorf("load arena %s: %w", path, err)
	}
	arena, err := NewArena(entries)
	if err != nil {
		return Arena{}, fmt.Errorf("load arena %s: %w", path, err)
	}
	return arena, nil
}

// Lookup returns a copy of the user's replica set, or a *ConfigError when
// the registry has none.
func (a Arena) Lookup(userID int64) (ReplicaSet, error) {
	set, ok := a.sets[userID]
	if !ok {
		return ReplicaSet{}, &ConfigError{UserID: userID, Reason: "no replica set"}
	}
	return set.clone(), nil
}

// Users returns the ids in the arena in ascending order.
func (a Arena) Users() []int64 {
	ids := make([]int64, 0, len(a.sets))
	for id := range a.sets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of users in the arena.
func (a Arena) Len() int {
	return len(a.sets)
}
