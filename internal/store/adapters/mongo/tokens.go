package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

type refreshDoc struct {
	JTI          string     `bson:"_id"`
	Subject      string     `bson:"subject"`
	SessionID    string     `bson:"session_id"`
	ParentJTI    string     `bson:"parent_jti"`
	RootJTI      string     `bson:"root_jti"`
	KeyID        string     `bson:"kid"`
	IssuedAt     time.Time  `bson:"issued_at"`
	ExpiresAt    time.Time  `bson:"expires_at"`
	Used         bool       `bson:"used"`
	UsedAt       *time.Time `bson:"used_at"`
	RevokedAt    *time.Time `bson:"revoked_at"`
	RevokeReason string     `bson:"revoke_reason"`
}

type revocationDoc struct {
	ID        string    `bson:"_id"` // "sid:<id>" | "sub:<subject>"
	Reason    string    `bson:"reason"`
	RevokedAt time.Time `bson:"revoked_at"`
}

// TokenStore implementa repository.TokenStore. El CAS de used es un UpdateOne
// con filtro condicional (atómico por documento).
type TokenStore struct {
	client      *mongo.Client
	refresh     *mongo.Collection
	revocations *mongo.Collection
}

// New crea los índices necesarios y devuelve el store.
func New(ctx context.Context, client *mongo.Client, dbName string) (*TokenStore, error) {
	db := client.Database(dbName)
	s := &TokenStore{
		client:      client,
		refresh:     db.Collection("refresh_tokens"),
		revocations: db.Collection("revocations"),
	}
	_, err := s.refresh.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "subject", Value: 1}}},
		// TTL: Mongo purga los registros un día después de expirar
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(86400)},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: create indexes: %w", err)
	}
	return s, nil
}

func (s *TokenStore) CreateRefresh(ctx context.Context, rec repository.RefreshRecord) error {
	if rec.JTI == "" {
		return fmt.Errorf("%w: jti required", repository.ErrInvalidInput)
	}
	if rec.RootJTI == "" {
		rec.RootJTI = rec.JTI
	}
	_, err := s.refresh.InsertOne(ctx, refreshDoc{
		JTI:       rec.JTI,
		Subject:   rec.Subject,
		SessionID: rec.SessionID,
		ParentJTI: rec.ParentJTI,
		RootJTI:   rec.RootJTI,
		KeyID:     rec.KeyID,
		IssuedAt:  rec.IssuedAt.UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrConflict
	}
	return wrap("create refresh", err)
}

func (s *TokenStore) GetRefresh(ctx context.Context, jti string) (*repository.RefreshRecord, error) {
	var doc refreshDoc
	err := s.refresh.FindOne(ctx, bson.M{"_id": jti}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get refresh", err)
	}
	return &repository.RefreshRecord{
		JTI:          doc.JTI,
		Subject:      doc.Subject,
		SessionID:    doc.SessionID,
		ParentJTI:    doc.ParentJTI,
		RootJTI:      doc.RootJTI,
		KeyID:        doc.KeyID,
		IssuedAt:     doc.IssuedAt.UTC(),
		ExpiresAt:    doc.ExpiresAt.UTC(),
		Used:         doc.Used,
		UsedAt:       doc.UsedAt,
		RevokedAt:    doc.RevokedAt,
		RevokeReason: doc.RevokeReason,
	}, nil
}

func (s *TokenStore) MarkUsedIfUnused(ctx context.Context, jti string) (bool, error) {
	res, err := s.refresh.UpdateOne(ctx,
		bson.M{"_id": jti, "used": false, "revoked_at": nil},
		bson.M{"$set": bson.M{"used": true, "used_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, wrap("mark used", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	n, err := s.refresh.CountDocuments(ctx, bson.M{"_id": jti})
	if err != nil {
		return false, wrap("mark used", err)
	}
	if n == 0 {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (s *TokenStore) GetChain(ctx context.Context, jti string) ([]string, error) {
	chain := []string{}
	seen := map[string]bool{}
	for cur := jti; cur != "" && !seen[cur]; {
		var doc struct {
			ParentJTI string `bson:"parent_jti"`
		}
		err := s.refresh.FindOne(ctx, bson.M{"_id": cur},
			options.FindOne().SetProjection(bson.M{"parent_jti": 1})).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if cur == jti {
				return nil, repository.ErrNotFound
			}
			break
		}
		if err != nil {
			return nil, wrap("get chain", err)
		}
		seen[cur] = true
		chain = append(chain, cur)
		cur = doc.ParentJTI
	}
	return chain, nil
}

func (s *TokenStore) RevokeSession(ctx context.Context, sessionID, reason string) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id required", repository.ErrInvalidInput)
	}
	return s.revoke(ctx, "session_id", "sid:"+sessionID, sessionID, reason, false)
}

func (s *TokenStore) RevokeSubject(ctx context.Context, subject, reason string) (int, error) {
	if subject == "" {
		return 0, fmt.Errorf("%w: subject required", repository.ErrInvalidInput)
	}
	return s.revoke(ctx, "subject", "sub:"+subject, subject, reason, true)
}

func (s *TokenStore) revoke(ctx context.Context, field, revID, value, reason string, overwrite bool) (int, error) {
	now := time.Now().UTC()
	res, err := s.refresh.UpdateMany(ctx,
		bson.M{field: value, "revoked_at": nil},
		bson.M{"$set": bson.M{"revoked_at": now, "revoke_reason": reason}},
	)
	if err != nil {
		return 0, wrap("revoke", err)
	}
	op := "$setOnInsert"
	if overwrite {
		op = "$set"
	}
	_, err = s.revocations.UpdateOne(ctx,
		bson.M{"_id": revID},
		bson.M{op: bson.M{"reason": reason, "revoked_at": now}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return 0, wrap("revoke", err)
	}
	if field == "subject" {
		// Las sesiones existentes se revocan por sid: el documento "sub:" solo
		// alcanza a tokens emitidos en segundos anteriores.
		if err := s.revokeSessionsOf(ctx, value, reason, now); err != nil {
			return 0, err
		}
	}
	return int(res.ModifiedCount), nil
}

func (s *TokenStore) revokeSessionsOf(ctx context.Context, subject, reason string, now time.Time) error {
	cur, err := s.refresh.Find(ctx,
		bson.M{"subject": subject, "session_id": bson.M{"$ne": ""}},
		options.Find().SetProjection(bson.M{"session_id": 1}),
	)
	if err != nil {
		return wrap("revoke sessions", err)
	}
	var docs []refreshDoc
	if err := cur.All(ctx, &docs); err != nil {
		return wrap("revoke sessions", err)
	}
	seen := map[string]bool{}
	for _, d := range docs {
		if seen[d.SessionID] {
			continue
		}
		seen[d.SessionID] = true
		_, err := s.revocations.UpdateOne(ctx,
			bson.M{"_id": "sid:" + d.SessionID},
			bson.M{"$setOnInsert": bson.M{"reason": reason, "revoked_at": now}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return wrap("revoke sessions", err)
		}
	}
	return nil
}

func (s *TokenStore) IsRevoked(ctx context.Context, sessionID, subject string, issuedAt time.Time) (bool, error) {
	var or bson.A
	if sessionID != "" {
		or = append(or, bson.M{"_id": "sid:" + sessionID})
	}
	if subject != "" {
		or = append(or, bson.M{"_id": "sub:" + subject, "revoked_at": bson.M{"$gte": repository.RevocationCutoff(issuedAt)}})
	}
	if len(or) == 0 {
		return false, nil
	}
	n, err := s.revocations.CountDocuments(ctx, bson.M{"$or": or}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrap("is revoked", err)
	}
	return n > 0, nil
}

func (s *TokenStore) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx, nil))
}

func (s *TokenStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: mongo %s: %v", repository.ErrUnavailable, op, err)
}
