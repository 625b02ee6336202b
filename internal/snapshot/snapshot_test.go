package snapshot_test

import (
	"testing"

	"github.com/animalet/sargantana-ksm/internal/snapshot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSnapshot(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Snapshot Suite")
}

type field struct {
	Label string
	Value []any
}

type folder struct {
	UID  string
	Name string
}

type record struct {
	UID    string
	Fields []field
	Extra  map[string][]string
	Folder *folder
}

var _ = Describe("Of", func() {
	It("copies nested slices, maps and pointers", func() {
		original := record{
			UID:    "R",
			Fields: []field{{Label: "password", Value: []any{"my-secret"}}},
			Extra:  map[string][]string{"tags": {"a"}},
			Folder: &folder{UID: "F", Name: "MyFolder"},
		}

		copied, err := snapshot.Of(original)
		Expect(err).NotTo(HaveOccurred())
		Expect(copied).To(Equal(original))

		copied.Fields[0].Value[0] = "changed"
		copied.Extra["tags"][0] = "b"
		copied.Folder.Name = "Other"
		Expect(original.Fields[0].Value[0]).To(Equal("my-secret"))
		Expect(original.Extra["tags"]).To(Equal([]string{"a"}))
		Expect(original.Folder.Name).To(Equal("MyFolder"))
	})

	It("copies slices of structs", func() {
		original := []record{{UID: "A"}, {UID: "B"}}
		copied := snapshot.MustOf(original)
		copied[0].UID = "Z"
		Expect(original[0].UID).To(Equal("A"))
		Expect(copied).To(HaveLen(2))
	})
})
