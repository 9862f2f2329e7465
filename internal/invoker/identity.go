package invoker

import (
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// namespace roots every derived test identifier.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:testinvoke"))

// Identity is the fully resolved, immutable identity of one test.
type Identity struct {
	// Assembly and Collection are display names of the enclosing groups.
	Assembly   string
	Collection string

	Class  *TestClass
	Method *TestMethod

	// DisplayName is what reporters show for this test.
	DisplayName string

	// Ref holds the unique identifiers stamped on every message.
	Ref TestRef
}

// NewIdentity resolves an Identity and derives its unique identifiers.
//
// Identifiers are name-based UUIDs chained from the assembly down to the
// test, so the same names always yield the same IDs. Names are NFC
// normalized first; visually identical names produce identical IDs.
// index distinguishes multiple tests produced from one test case.
func NewIdentity(assembly, collection string, class *TestClass, method *TestMethod, displayName string, index int) Identity {
	className := ""
	if class != nil {
		className = class.Name
	}
	methodName := ""
	if method != nil {
		methodName = method.Name
	}
	if displayName == "" {
		displayName = className + "." + methodName
	}

	asm := derive(namespace, assembly)
	col := derive(asm, collection)
	cls := derive(col, className)
	mth := derive(cls, methodName)
	cas := derive(mth, displayName)
	tst := derive(cas, strconv.Itoa(index))

	return Identity{
		Assembly:    assembly,
		Collection:  collection,
		Class:       class,
		Method:      method,
		DisplayName: displayName,
		Ref: TestRef{
			AssemblyID:   asm.String(),
			CollectionID: col.String(),
			ClassID:      cls.String(),
			MethodID:     mth.String(),
			CaseID:       cas.String(),
			TestID:       tst.String(),
		},
	}
}

func derive(parent uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(parent, norm.NFC.Bytes([]byte(name)))
}
