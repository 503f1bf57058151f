package merkle_test

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/wotnet/keychain/foundation/keychain/merkle"
)

// Data uses the sha1 hashing algorithm for the merkle tree, matching how
// member fingerprints are hashed on the chain.
type Data struct {
	x string
}

// Hash hashes the values using sha1.
func (d Data) Hash() ([]byte, error) {
	h := sha1.New()
	if _, err := h.Write([]byte(d.x)); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// Equals tests for equality of two pieces of data.
func (d Data) Equals(other Data) bool {
	return d.x == other.x
}

// =============================================================================

func Test_RootIsDeterministic(t *testing.T) {
	values := []Data{{"aa"}, {"bb"}, {"cc"}}

	tree1, err := merkle.NewTree(values, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}
	tree2, err := merkle.NewTree(values, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}

	if !bytes.Equal(tree1.MerkleRoot, tree2.MerkleRoot) {
		t.Errorf("error: expected identical roots, got %v and %v", tree1.MerkleRoot, tree2.MerkleRoot)
	}
	if tree1.RootHex() != tree2.RootHex() {
		t.Errorf("error: expected identical hex roots, got %s and %s", tree1.RootHex(), tree2.RootHex())
	}
}

func Test_RootDependsOnOrder(t *testing.T) {
	tree1, err := merkle.NewTree([]Data{{"aa"}, {"bb"}}, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}
	tree2, err := merkle.NewTree([]Data{{"bb"}, {"aa"}}, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}

	if bytes.Equal(tree1.MerkleRoot, tree2.MerkleRoot) {
		t.Errorf("error: expected order to change the root, got %v twice", tree1.MerkleRoot)
	}
}

func Test_OddLeafCountDuplicatesLast(t *testing.T) {
	odd, err := merkle.NewTree([]Data{{"aa"}, {"bb"}, {"cc"}}, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}
	padded, err := merkle.NewTree([]Data{{"aa"}, {"bb"}, {"cc"}, {"cc"}}, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}

	if !bytes.Equal(odd.MerkleRoot, padded.MerkleRoot) {
		t.Errorf("error: expected odd tree to equal explicitly padded tree, got %v and %v", odd.MerkleRoot, padded.MerkleRoot)
	}

	values := odd.Values()
	if len(values) != 3 {
		t.Errorf("error: expected Values to hide the duplicated leaf, got %d values", len(values))
	}
}

func Test_Verify(t *testing.T) {
	tree, err := merkle.NewTree([]Data{{"aa"}, {"bb"}, {"cc"}, {"dd"}, {"ee"}}, merkle.WithHashStrategy[Data](sha1.New))
	if err != nil {
		t.Fatalf("error: unexpected error: %v", err)
	}

	if err := tree.Verify(); err != nil {
		t.Errorf("error: expected the tree to verify: %v", err)
	}
}

func Test_EmptyTree(t *testing.T) {
	if _, err := merkle.NewTree([]Data{}, merkle.WithHashStrategy[Data](sha1.New)); err == nil {
		t.Error("error: expected an error constructing an empty tree")
	}
}
