package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-gateway/internal/models"
)

type fakeStore struct {
	mapping string
	docs    map[string][]byte
	err     error
}

func (f *fakeStore) EnsureIndex(_ context.Context, index, mapping string) error {
	f.mapping = mapping
	return f.err
}

func (f *fakeStore) IndexDocument(_ context.Context, index, id string, doc interface{}) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if f.docs == nil {
		f.docs = make(map[string][]byte)
	}
	f.docs[index+"/"+id] = b
	return nil
}

func TestAlertIndexer_IndexAlert(t *testing.T) {
	store := &fakeStore{}
	idx := NewAlertIndexer(store, "aura-alerts", nil)

	require.NoError(t, idx.EnsureIndex(context.Background()))
	assert.True(t, json.Valid([]byte(store.mapping)))

	alert := &models.Alert{
		AlertID:             "a1",
		EndpointID:          "HR-LAPTOP-14",
		CreationTimestamp:   time.Unix(1735689600, 0).UTC(),
		MLScore:             0.9,
		AuraConfidenceScore: 0.8,
		Status:              models.AlertStatusPending,
	}
	require.NoError(t, idx.IndexAlert(context.Background(), alert))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(store.docs["aura-alerts/a1"], &doc))
	assert.Equal(t, "PENDING", doc["status"])
	assert.Equal(t, "HR-LAPTOP-14", doc["endpointId"])
}

func TestAlertIndexer_WrapsErrors(t *testing.T) {
	cause := errors.New("cluster red")
	idx := NewAlertIndexer(&fakeStore{err: cause}, "aura-alerts", nil)

	assert.ErrorIs(t, idx.EnsureIndex(context.Background()), cause)
	assert.ErrorIs(t, idx.IndexAlert(context.Background(), &models.Alert{AlertID: "a1"}), cause)
}
