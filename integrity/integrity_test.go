package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(Config{Key: "unit-test-key"})
	require.NoError(t, err)
	return s
}

func sampleOrder() OrderData {
	return OrderData{
		WarehouseID: "BOG-01",
		ClientID:    3,
		State:       "Alistamiento",
		ID:          7,
		Items:       []string{"SKU-B", "SKU-A"},
		Lines: []LineData{
			{Quantity: 2, Product: "P-100"},
			{Quantity: 1, Product: "P-200"},
		},
	}
}

func TestNewSignerRequiresKey(t *testing.T) {
	_, err := NewSigner(Config{})
	assert.Error(t, err)
}

func TestDigestIsDeterministic(t *testing.T) {
	s := testSigner(t)

	a, err := s.Digest(sampleOrder())
	require.NoError(t, err)
	b, err := s.Digest(sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex SHA-256
}

func TestDigestIgnoresItemOrder(t *testing.T) {
	s := testSigner(t)

	shuffled := sampleOrder()
	shuffled.Items = []string{"SKU-A", "SKU-B"}

	a, err := s.Digest(sampleOrder())
	require.NoError(t, err)
	b, err := s.Digest(shuffled)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDigestDoesNotMutateCallerItems(t *testing.T) {
	s := testSigner(t)

	d := sampleOrder()
	_, err := s.Digest(d)
	require.NoError(t, err)

	assert.Equal(t, []string{"SKU-B", "SKU-A"}, d.Items)
}

func TestNilAndEmptyItemsHashEqually(t *testing.T) {
	s := testSigner(t)

	withNil := sampleOrder()
	withNil.Items = nil
	withEmpty := sampleOrder()
	withEmpty.Items = []string{}

	a, err := s.Digest(withNil)
	require.NoError(t, err)
	b, err := s.Digest(withEmpty)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := testSigner(t)

	original := sampleOrder()
	digest, err := s.Digest(original)
	require.NoError(t, err)

	ok, err := s.Verify(original, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := sampleOrder()
	tampered.State = "Despachado"
	ok, err = s.Verify(tampered, digest)
	require.NoError(t, err)
	assert.False(t, ok)

	tampered = sampleOrder()
	tampered.Lines[0].Quantity = 99
	ok, err = s.Verify(tampered, digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDifferentKeysProduceDifferentDigests(t *testing.T) {
	s1 := testSigner(t)
	s2, err := NewSigner(Config{Key: "another-key"})
	require.NoError(t, err)

	a, err := s1.Digest(sampleOrder())
	require.NoError(t, err)
	b, err := s2.Digest(sampleOrder())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	ok, err := s2.Verify(sampleOrder(), a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvoiceIsCoveredByDigest(t *testing.T) {
	s := testSigner(t)

	without := sampleOrder()
	with := sampleOrder()
	with.Invoice = &InvoiceData{ClientID: 3, Receipt: "R-1", Total: 150.0, ID: 1, Method: "transferencia", Account: "001"}

	a, err := s.Digest(without)
	require.NoError(t, err)
	b, err := s.Digest(with)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
