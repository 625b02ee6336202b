// Package hsm stores the KSM credentials as a data object inside a PKCS#11 token.
package hsm

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/animalet/sargantana-ksm/internal/secure"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Application is the CKA_APPLICATION value of the data objects written by this package.
const Application = "keeper-ksm"

// Module is the part of a PKCS#11 module used here. *pkcs11.Ctx implements it.
type Module interface {
	Initialize() error
	Finalize() error
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	CreateObject(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
}

// Location addresses a token: pkcs11://slot/<index>/token/<label>.
type Location struct {
	Slot       int
	TokenLabel string
}

// ParseLocation reads a pkcs11:// location. Missing parts default to slot 0 and no label.
func ParseLocation(raw string) (Location, error) {
	loc := Location{}
	if strings.TrimSpace(raw) == "" {
		return loc, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "pkcs11" {
		return loc, ksmerr.NewConfigError("keeper.ksm.secret_path", "invalid PKCS#11 location %q, expected pkcs11://slot/<n>/token/<label>", raw)
	}
	parts := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i += 2 {
		switch parts[i] {
		case "slot":
			n, err := strconv.Atoi(parts[i+1])
			if err != nil || n < 0 {
				return loc, ksmerr.NewConfigError("keeper.ksm.secret_path", "invalid slot %q in %q", parts[i+1], raw)
			}
			loc.Slot = n
		case "token":
			loc.TokenLabel = parts[i+1]
		}
	}
	return loc, nil
}

// Config describes the token and object that hold the credentials.
type Config struct {
	Library  string
	Location Location
	// Label is the CKA_LABEL of the data object.
	Label string
	PIN   *secure.Secret
}

// Option customizes a Store.
type Option func(*Store)

// WithModule uses an already loaded module instead of loading Config.Library.
func WithModule(m Module) Option {
	return func(s *Store) {
		s.module = m
	}
}

// Store reads and writes one data object in a PKCS#11 token.
type Store struct {
	cfg    Config
	module Module
	slotID uint
}

// Open loads the PKCS#11 library and selects the configured slot.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Label == "" {
		return nil, ksmerr.NewConfigError("keeper.ksm.secret_user", "an object label is required for HSM storage")
	}
	s := &Store{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.module == nil {
		if cfg.Library == "" {
			return nil, ksmerr.NewConfigError("keeper.ksm.pkcs11_library", "a PKCS#11 library path is required for HSM storage")
		}
		ctx := pkcs11.New(cfg.Library)
		if ctx == nil {
			return nil, ksmerr.NewConfigError("keeper.ksm.pkcs11_library", "PKCS#11 library %q could not be loaded", cfg.Library)
		}
		s.module = ctx
	}
	if err := s.module.Initialize(); err != nil && !isCode(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		return nil, errors.Wrap(err, "failed to initialize PKCS#11 module")
	}
	slots, err := s.module.GetSlotList(true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list PKCS#11 slots")
	}
	if cfg.Location.Slot >= len(slots) {
		return nil, ksmerr.NewConfigError("keeper.ksm.secret_path", "PKCS#11 slot %d not found (%d slot(s) with a token)", cfg.Location.Slot, len(slots))
	}
	s.slotID = slots[cfg.Location.Slot]
	if cfg.Location.TokenLabel != "" {
		info, err := s.module.GetTokenInfo(s.slotID)
		if err == nil && strings.TrimSpace(info.Label) != cfg.Location.TokenLabel {
			log.Warn().
				Int("slot", cfg.Location.Slot).
				Str("expected", cfg.Location.TokenLabel).
				Str("found", strings.TrimSpace(info.Label)).
				Msg("PKCS#11 token label does not match the configured location")
		}
	}
	return s, nil
}

// Put replaces the data object with value.
func (s *Store) Put(ctx context.Context, value []byte) error {
	return s.withSession(ctx, func(sh pkcs11.SessionHandle) error {
		existing, err := s.find(sh)
		if err != nil {
			return err
		}
		for _, oh := range existing {
			if err = s.module.DestroyObject(sh, oh); err != nil {
				return errors.Wrap(err, "failed to remove previous HSM object")
			}
		}
		_, err = s.module.CreateObject(sh, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
			pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
			pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
			pkcs11.NewAttribute(pkcs11.CKA_MODIFIABLE, false),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.cfg.Label),
			pkcs11.NewAttribute(pkcs11.CKA_APPLICATION, Application),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, value),
		})
		if err != nil {
			return errors.Wrap(err, "failed to create HSM data object")
		}
		log.Debug().Str("label", s.cfg.Label).Uint("slot", s.slotID).Msg("Stored data object in HSM")
		return nil
	})
}

// Get returns the value of the data object.
func (s *Store) Get(ctx context.Context) ([]byte, error) {
	var value []byte
	err := s.withSession(ctx, func(sh pkcs11.SessionHandle) error {
		objects, err := s.find(sh)
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			return errors.Errorf("no HSM data object labelled %q", s.cfg.Label)
		}
		attrs, err := s.module.GetAttributeValue(sh, objects[0], []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		})
		if err != nil {
			return errors.Wrap(err, "failed to read HSM data object")
		}
		if len(attrs) == 0 {
			return errors.New("HSM data object has no value")
		}
		value = attrs[0].Value
		return nil
	})
	return value, err
}

// Close finalizes the module.
func (s *Store) Close() error {
	return s.module.Finalize()
}

func (s *Store) withSession(ctx context.Context, fn func(sh pkcs11.SessionHandle) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh, err := s.module.OpenSession(s.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return errors.Wrap(err, "failed to open PKCS#11 session")
	}
	defer func() { _ = s.module.CloseSession(sh) }()

	err = s.cfg.PIN.Use(func(pin []byte) error {
		if pin == nil {
			return nil
		}
		if err := s.module.Login(sh, pkcs11.CKU_USER, string(pin)); err != nil && !isCode(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			return errors.Wrap(err, "PKCS#11 login failed")
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = s.module.Logout(sh) }()
	return fn(sh)
}

func (s *Store) find(sh pkcs11.SessionHandle) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_DATA),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.cfg.Label),
		pkcs11.NewAttribute(pkcs11.CKA_APPLICATION, Application),
	}
	if err := s.module.FindObjectsInit(sh, template); err != nil {
		return nil, errors.Wrap(err, "failed to search HSM objects")
	}
	defer func() { _ = s.module.FindObjectsFinal(sh) }()
	objects, _, err := s.module.FindObjects(sh, 16)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search HSM objects")
	}
	return objects, nil
}

func isCode(err error, code uint) bool {
	var e pkcs11.Error
	return errors.As(err, &e) && uint(e) == code
}
