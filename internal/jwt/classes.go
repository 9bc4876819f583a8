package jwt

import (
	"fmt"
	"time"
)

// Class es la clase de un token. Enum cerrado: la verificación hace switch sobre el tag.
type Class uint8

const (
	ClassSession Class = iota + 1
	ClassAccess
	ClassRefresh
	ClassM2M
)

var classNames = [...]string{
	ClassSession: "session",
	ClassAccess:  "access",
	ClassRefresh: "refresh",
	ClassM2M:     "m2m",
}

// Classes enumera todas las clases conocidas.
func Classes() []Class {
	return []Class{ClassSession, ClassAccess, ClassRefresh, ClassM2M}
}

func (c Class) String() string {
	if c.Valid() {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Valid reporta si c es una de las cuatro clases.
func (c Class) Valid() bool {
	return c >= ClassSession && c <= ClassM2M
}

// ParseClass convierte "session" | "access" | "refresh" | "m2m" en Class.
func ParseClass(s string) (Class, error) {
	for _, c := range Classes() {
		if classNames[c] == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicyClass, s)
}

func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicyClass, uint8(c))
	}
	return []byte(classNames[c]), nil
}

func (c *Class) UnmarshalText(b []byte) error {
	v, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RotationTrigger indica qué dispara el reemplazo de un token de la clase.
type RotationTrigger uint8

const (
	TriggerTTLExpiry RotationTrigger = iota + 1
	TriggerPrivilegeChange
	TriggerSingleUse
)

// Storage indica dónde vive el estado de un token de la clase.
type Storage uint8

const (
	StorageServerSide Storage = iota + 1
	StorageStateless
	StorageEncryptedAtRest
)

// Policy es la fila de la tabla estática de políticas por clase.
type Policy struct {
	Class    Class
	TTL      time.Duration
	Audience []string
	Trigger  RotationTrigger
	Storage  Storage
}

// PolicyTable es inmutable una vez construida.
type PolicyTable struct {
	byClass [ClassM2M + 1]Policy
}

// DefaultPolicies devuelve la tabla por defecto (access ≤ 10m para acotar la
// ventana de confianza de los tokens stateless).
func DefaultPolicies() []Policy {
	return []Policy{
		{Class: ClassSession, TTL: 12 * time.Hour, Audience: []string{"journal-web-session"}, Trigger: TriggerPrivilegeChange, Storage: StorageServerSide},
		{Class: ClassAccess, TTL: 10 * time.Minute, Audience: []string{"journal-api"}, Trigger: TriggerTTLExpiry, Storage: StorageStateless},
		{Class: ClassRefresh, TTL: 30 * 24 * time.Hour, Audience: []string{"journal-auth-refresh"}, Trigger: TriggerSingleUse, Storage: StorageEncryptedAtRest},
		{Class: ClassM2M, TTL: 30 * time.Minute, Audience: []string{"journal-services"}, Trigger: TriggerTTLExpiry, Storage: StorageStateless},
	}
}

// NewPolicyTable valida y construye la tabla. Exige las cuatro clases, TTL > 0,
// audiencia no vacía y audiencias disjuntas entre clases.
func NewPolicyTable(policies ...Policy) (*PolicyTable, error) {
	t := &PolicyTable{}
	owner := map[string]Class{}
	for _, p := range policies {
		if !p.Class.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownPolicyClass, uint8(p.Class))
		}
		if t.byClass[p.Class].Class != 0 {
			return nil, fmt.Errorf("policy: class %s declared twice", p.Class)
		}
		if p.TTL <= 0 {
			return nil, fmt.Errorf("policy: class %s requires ttl > 0", p.Class)
		}
		if len(p.Audience) == 0 {
			return nil, fmt.Errorf("policy: class %s requires an audience", p.Class)
		}
		for _, aud := range p.Audience {
			if prev, ok := owner[aud]; ok {
				return nil, fmt.Errorf("policy: audience %q shared by %s and %s", aud, prev, p.Class)
			}
			owner[aud] = p.Class
		}
		p.Audience = append([]string(nil), p.Audience...)
		t.byClass[p.Class] = p
	}
	for _, c := range Classes() {
		if t.byClass[c].Class == 0 {
			return nil, fmt.Errorf("policy: missing class %s", c)
		}
	}
	return t, nil
}

// MustPolicyTable es NewPolicyTable para tablas conocidas (tests, defaults).
func MustPolicyTable(policies ...Policy) *PolicyTable {
	t, err := NewPolicyTable(policies...)
	if err != nil {
		panic(err)
	}
	return t
}

// Get devuelve la política de la clase. ok=false si la clase no es válida.
func (t *PolicyTable) Get(c Class) (Policy, bool) {
	if !c.Valid() {
		return Policy{}, false
	}
	return t.byClass[c], true
}

// Stateful reporta si la clase requiere tracking server-side (y revocación).
func (p Policy) Stateful() bool {
	switch p.Storage {
	case StorageServerSide, StorageEncryptedAtRest:
		return true
	default:
		return false
	}
}

func (p Policy) allowsAudience(aud string) bool {
	for _, a := range p.Audience {
		if a == aud {
			return true
		}
	}
	return false
}
