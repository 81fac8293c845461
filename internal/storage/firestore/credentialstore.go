package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// CredentialStore implements credential.Store using Google Cloud Firestore.
type CredentialStore struct {
	client *firestore.Client
}

func NewCredentialStore(client *firestore.Client) *CredentialStore {
	return &CredentialStore{client: client}
}

// credentialRecord is the internal DB representation.
type credentialRecord struct {
	Token      string    `firestore:"token"`
	Platform   string    `firestore:"platform"`
	DeviceName string    `firestore:"device_name"`
	Source     string    `firestore:"source"`
	Active     bool      `firestore:"active"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

// Register upserts the record. The token hash is the document ID, so the same
// token registered twice lands on the same document.
func (s *CredentialStore) Register(ctx context.Context, device urn.URN, record credential.Record) error {
	if record.Token == "" {
		return fmt.Errorf("cannot register an empty credential")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	doc := credentialRecord{
		Token:      record.Token,
		Platform:   record.Platform,
		DeviceName: record.DeviceName,
		Source:     record.Source,
		Active:     record.Active,
		UpdatedAt:  record.UpdatedAt,
	}

	if _, err := s.credentialRef(device, record.Token).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore register failed: %w", err)
	}
	return nil
}

// Lookup returns the most recently updated active credential for the device.
func (s *CredentialStore) Lookup(ctx context.Context, device urn.URN) (*credential.Record, error) {
	iter := s.credentialsCollection(device).
		Where("active", "==", true).
		OrderBy("updated_at", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore lookup failed: %w", err)
	}

	var rec credentialRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("corrupt credential record %s: %w", doc.Ref.ID, err)
	}

	return &credential.Record{
		Token:      rec.Token,
		Platform:   rec.Platform,
		DeviceName: rec.DeviceName,
		Source:     rec.Source,
		Active:     rec.Active,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}

// Deactivate flips the active flag. A token that was never registered is ignored.
func (s *CredentialStore) Deactivate(ctx context.Context, device urn.URN, token string) error {
	_, err := s.credentialRef(device, token).Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updated_at", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("firestore deactivate failed: %w", err)
	}
	return nil
}

// --- Helpers ---

// credentialRef: devices/{deviceURN}/credentials/{tokenHash}
func (s *CredentialStore) credentialRef(device urn.URN, token string) *firestore.DocumentRef {
	return s.credentialsCollection(device).Doc(hashToken(token))
}

func (s *CredentialStore) credentialsCollection(device urn.URN) *firestore.CollectionRef {
	return s.client.Collection("devices").Doc(device.String()).Collection("credentials")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
