//go:build unit

package hsm

import (
	"context"
	"testing"

	"github.com/animalet/sargantana-ksm/internal/secure"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/miekg/pkcs11"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHSM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HSM Suite")
}

type fakeObject struct {
	label, application string
	value              []byte
}

// fakeModule is a single-token PKCS#11 module keeping data objects in memory.
type fakeModule struct {
	slots      []uint
	tokenLabel string
	pin        string
	objects    map[pkcs11.ObjectHandle]fakeObject
	next       pkcs11.ObjectHandle
	loggedIn   bool
	search     []pkcs11.ObjectHandle
	finalized  bool
}

func newFakeModule() *fakeModule {
	return &fakeModule{slots: []uint{7}, tokenLabel: "kms", pin: "1234", objects: map[pkcs11.ObjectHandle]fakeObject{}}
}

func (f *fakeModule) Initialize() error { return nil }
func (f *fakeModule) Finalize() error   { f.finalized = true; return nil }
func (f *fakeModule) GetSlotList(bool) ([]uint, error) {
	return f.slots, nil
}
func (f *fakeModule) GetTokenInfo(uint) (pkcs11.TokenInfo, error) {
	return pkcs11.TokenInfo{Label: f.tokenLabel}, nil
}
func (f *fakeModule) OpenSession(uint, uint) (pkcs11.SessionHandle, error) { return 1, nil }
func (f *fakeModule) CloseSession(pkcs11.SessionHandle) error                { return nil }
func (f *fakeModule) Login(_ pkcs11.SessionHandle, _ uint, pin string) error {
	if pin != f.pin {
		return pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	}
	f.loggedIn = true
	return nil
}
func (f *fakeModule) Logout(pkcs11.SessionHandle) error { f.loggedIn = false; return nil }

func attr(temp []*pkcs11.Attribute, typ uint) (string, bool) {
	for _, a := range temp {
		if a.Type == typ {
			return string(a.Value), true
		}
	}
	return "", false
}

func (f *fakeModule) FindObjectsInit(_ pkcs11.SessionHandle, temp []*pkcs11.Attribute) error {
	label, _ := attr(temp, pkcs11.CKA_LABEL)
	app, _ := attr(temp, pkcs11.CKA_APPLICATION)
	f.search = nil
	if !f.loggedIn {
		return nil
	}
	for h, o := range f.objects {
		if o.label == label && o.application == app {
			f.search = append(f.search, h)
		}
	}
	return nil
}
func (f *fakeModule) FindObjects(pkcs11.SessionHandle, int) ([]pkcs11.ObjectHandle, bool, error) {
	return f.search, false, nil
}
func (f *fakeModule) FindObjectsFinal(pkcs11.SessionHandle) error { f.search = nil; return nil }
func (f *fakeModule) CreateObject(_ pkcs11.SessionHandle, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	label, _ := attr(temp, pkcs11.CKA_LABEL)
	app, _ := attr(temp, pkcs11.CKA_APPLICATION)
	value, _ := attr(temp, pkcs11.CKA_VALUE)
	f.next++
	f.objects[f.next] = fakeObject{label: label, application: app, value: []byte(value)}
	return f.next, nil
}
func (f *fakeModule) DestroyObject(_ pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error {
	delete(f.objects, oh)
	return nil
}
func (f *fakeModule) GetAttributeValue(_ pkcs11.SessionHandle, oh pkcs11.ObjectHandle, _ []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	return []*pkcs11.Attribute{{Type: pkcs11.CKA_VALUE, Value: f.objects[oh].value}}, nil
}

var _ = Describe("ParseLocation", func() {
	It("reads slot and token", func() {
		loc, err := ParseLocation("pkcs11://slot/2/token/kms")
		Expect(err).NotTo(HaveOccurred())
		Expect(loc).To(Equal(Location{Slot: 2, TokenLabel: "kms"}))
	})

	It("defaults to slot 0", func() {
		loc, err := ParseLocation("")
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.Slot).To(Equal(0))
	})

	It("rejects other schemes", func() {
		_, err := ParseLocation("file:///tmp/x")
		Expect(ksmerr.IsConfig(err)).To(BeTrue())
	})

	It("rejects a negative slot", func() {
		_, err := ParseLocation("pkcs11://slot/-1/token/kms")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Store", func() {
	var module *fakeModule

	BeforeEach(func() {
		module = newFakeModule()
	})

	open := func(pin string) *Store {
		s, err := Open(Config{
			Location: Location{Slot: 0, TokenLabel: "kms"},
			Label:    "changeme",
			PIN:      secure.FromString(pin),
		}, WithModule(module))
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("stores and reads back a value", func() {
		s := open("1234")
		Expect(s.Put(context.Background(), []byte(`{"clientId":"abc"}`))).To(Succeed())
		value, err := s.Get(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(value)).To(Equal(`{"clientId":"abc"}`))
	})

	It("replaces the previous object", func() {
		s := open("1234")
		Expect(s.Put(context.Background(), []byte("one"))).To(Succeed())
		Expect(s.Put(context.Background(), []byte("two"))).To(Succeed())
		Expect(module.objects).To(HaveLen(1))
		value, err := s.Get(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(value)).To(Equal("two"))
	})

	It("fails with a wrong PIN", func() {
		s := open("0000")
		err := s.Put(context.Background(), []byte("x"))
		Expect(err).To(MatchError(ContainSubstring("PKCS#11 login failed")))
	})

	It("reports a missing object", func() {
		s := open("1234")
		_, err := s.Get(context.Background())
		Expect(err).To(MatchError(ContainSubstring(`no HSM data object labelled "changeme"`)))
	})

	It("rejects a slot that does not exist", func() {
		_, err := Open(Config{Location: Location{Slot: 3}, Label: "x"}, WithModule(module))
		Expect(ksmerr.IsConfig(err)).To(BeTrue())
	})

	It("requires a library when no module is given", func() {
		_, err := Open(Config{Label: "x"})
		Expect(err).To(MatchError(ContainSubstring("PKCS#11 library path is required")))
	})

	It("reports a library that cannot be loaded", func() {
		_, err := Open(Config{Label: "x", Library: "/nonexistent/libpkcs11.so"})
		Expect(err).To(MatchError(ContainSubstring("could not be loaded")))
	})

	It("finalizes the module on close", func() {
		s := open("1234")
		Expect(s.Close()).To(Succeed())
		Expect(module.finalized).To(BeTrue())
	})
})
