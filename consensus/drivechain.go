package consensus

import (
	"fmt"
)

// Drivechain numbers from the original sidechain table.
const (
	SIDECHAIN_TEST     byte = 0x00
	SIDECHAIN_HIVEMIND byte = 0x01
	SIDECHAIN_WIMBLE   byte = 0x02

	DefaultMaxPayloadBytes = 80
)

// PayloadRule decides whether a commitment payload is well formed for one
// drivechain type.
type PayloadRule interface {
	CheckPayload(payload []byte) error
}

// OpaquePayload accepts any non-empty payload up to Max bytes.
type OpaquePayload struct {
	Max int
}

func (r OpaquePayload) CheckPayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	if r.Max > 0 && len(payload) > r.Max {
		return fmt.Errorf("payload %d bytes exceeds %d", len(payload), r.Max)
	}
	return nil
}

type FixedLengthPayload struct {
	N int
}

func (r FixedLengthPayload) CheckPayload(payload []byte) error {
	if len(payload) != r.N {
		return fmt.Errorf("payload %d bytes, want %d", len(payload), r.N)
	}
	return nil
}

// CriticalHashPayload is the BMM h* layout: a 1..4 byte block number push
// followed by a 32-byte hash push and nothing else.
type CriticalHashPayload struct{}

func (CriticalHashPayload) CheckPayload(payload []byte) error {
	num, off, ok := readPush(payload, 0)
	if !ok || len(num) < 1 || len(num) > 4 {
		return fmt.Errorf("bad block number push")
	}
	hash, off, ok := readPush(payload, off)
	if !ok || len(hash) != 32 {
		return fmt.Errorf("bad critical hash push")
	}
	if off != len(payload) {
		return fmt.Errorf("trailing bytes after critical hash")
	}
	return nil
}

type Drivechain struct {
	ID   []byte
	Name string
	Rule PayloadRule
}

// DrivechainRegistry maps drivechain ids to their payload rules. It is
// populated before use and must not be modified while blocks are validated.
type DrivechainRegistry struct {
	chains   map[string]Drivechain
	fallback PayloadRule
}

func NewDrivechainRegistry(fallback PayloadRule) *DrivechainRegistry {
	if fallback == nil {
		fallback = OpaquePayload{Max: DefaultMaxPayloadBytes}
	}
	return &DrivechainRegistry{
		chains:   make(map[string]Drivechain),
		fallback: fallback,
	}
}

func (r *DrivechainRegistry) Register(d Drivechain) error {
	if len(d.ID) == 0 || len(d.ID) > MaxDrivechainIDBytes {
		return fmt.Errorf("drivechain id length %d out of range", len(d.ID))
	}
	if d.Rule == nil {
		return fmt.Errorf("drivechain %x: nil payload rule", d.ID)
	}
	key := string(d.ID)
	if _, exists := r.chains[key]; exists {
		return fmt.Errorf("drivechain %x already registered", d.ID)
	}
	d.ID = append([]byte(nil), d.ID...)
	r.chains[key] = d
	return nil
}

func (r *DrivechainRegistry) Lookup(id []byte) (Drivechain, bool) {
	if r == nil {
		return Drivechain{}, false
	}
	d, ok := r.chains[string(id)]
	return d, ok
}

// RuleFor returns the registered rule for id, or the fallback rule.
func (r *DrivechainRegistry) RuleFor(id []byte) PayloadRule {
	if d, ok := r.Lookup(id); ok {
		return d.Rule
	}
	if r == nil || r.fallback == nil {
		return OpaquePayload{Max: DefaultMaxPayloadBytes}
	}
	return r.fallback
}

func (r *DrivechainRegistry) Name(id []byte) string {
	if d, ok := r.Lookup(id); ok {
		return d.Name
	}
	return "SIDECHAIN_UNKNOWN"
}

func (r *DrivechainRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.chains)
}

var defaultRegistry = mustDefaultRegistry()

func mustDefaultRegistry() *DrivechainRegistry {
	r := NewDrivechainRegistry(nil)
	for _, d := range []Drivechain{
		{ID: []byte{SIDECHAIN_TEST}, Name: "SIDECHAIN_TEST", Rule: CriticalHashPayload{}},
		{ID: []byte{SIDECHAIN_HIVEMIND}, Name: "SIDECHAIN_HIVEMIND", Rule: CriticalHashPayload{}},
		{ID: []byte{SIDECHAIN_WIMBLE}, Name: "SIDECHAIN_WIMBLE", Rule: CriticalHashPayload{}},
	} {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// DefaultDrivechainRegistry returns the shared registry of the known
// drivechains. Callers must treat it as read-only.
func DefaultDrivechainRegistry() *DrivechainRegistry {
	return defaultRegistry
}
