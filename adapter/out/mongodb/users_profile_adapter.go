package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"users_server/core/domain"
	"users_server/core/port/out"
	"users_server/pkg/resilience"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Profile Adapter
// =============================================================================

const (
	collectionUsers = "User"

	indexEmailUnique = "email_unique"
)

// ProfileAdapter implements out.ProfileRepository using MongoDB.
type ProfileAdapter struct {
	collection *mongo.Collection
	breaker    *resilience.Breaker
	now        func() time.Time
}

// NewProfileAdapter creates a new MongoDB profile adapter.
func NewProfileAdapter(db *mongo.Database, breaker *resilience.Breaker) *ProfileAdapter {
	return &ProfileAdapter{
		collection: db.Collection(collectionUsers),
		breaker:    breaker,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ExpectedErrors are the store outcomes that must not trip the breaker.
var ExpectedErrors = []error{
	out.ErrProfileNotFound,
	out.ErrDuplicateID,
	out.ErrDuplicateEmail,
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ProfileAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: domain.FieldEmail, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexEmailUnique),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type profileDocument struct {
	ID    primitive.ObjectID `bson:"_id"`
	Email string             `bson:"email"`

	FirstName  *string          `bson:"first_name,omitempty"`
	SecondName *string          `bson:"second_name,omitempty"`
	Birthday   *string          `bson:"birthday,omitempty"`
	AvatarURL  *string          `bson:"avatar_url,omitempty"`
	Address    *addressDocument `bson:"address,omitempty"`

	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type addressDocument struct {
	Index     string `bson:"index"`
	City      string `bson:"city"`
	Street    string `bson:"street"`
	Apartment string `bson:"apartment"`
}

// =============================================================================
// Operations
// =============================================================================

// Insert stores a new profile and fills its timestamps.
func (a *ProfileAdapter) Insert(ctx context.Context, profile *domain.UserProfile) error {
	oid, err := primitive.ObjectIDFromHex(profile.ID)
	if err != nil {
		return fmt.Errorf("invalid profile id %q: %w", profile.ID, err)
	}

	now := a.now()
	profile.CreatedAt, profile.UpdatedAt = now, now
	doc := toDocument(oid, profile)

	_, err = resilience.Execute(a.breaker, func() (*mongo.InsertOneResult, error) {
		res, err := a.collection.InsertOne(ctx, doc)
		if err != nil {
			return nil, classifyWrite(err, out.ErrDuplicateID)
		}
		return res, nil
	})
	return err
}

// FindByID returns out.ErrProfileNotFound when the id is absent.
func (a *ProfileAdapter) FindByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, out.ErrProfileNotFound
	}

	return resilience.Execute(a.breaker, func() (*domain.UserProfile, error) {
		var doc profileDocument
		err := a.collection.FindOne(ctx, bson.M{domain.FieldID: oid}).Decode(&doc)
		if err != nil {
			return nil, classifyRead(err)
		}
		return toDomain(&doc), nil
	})
}

// FindAll returns every profile in natural order.
func (a *ProfileAdapter) FindAll(ctx context.Context) ([]*domain.UserProfile, error) {
	return resilience.Execute(a.breaker, func() ([]*domain.UserProfile, error) {
		cursor, err := a.collection.Find(ctx, bson.M{})
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		defer cursor.Close(ctx)

		var docs []profileDocument
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("failed to decode profiles: %w", err)
		}

		profiles := make([]*domain.UserProfile, 0, len(docs))
		for i := range docs {
			profiles = append(profiles, toDomain(&docs[i]))
		}
		return profiles, nil
	})
}

// UpdateEmail sets the email and returns the updated profile.
func (a *ProfileAdapter) UpdateEmail(ctx context.Context, id, email string) (*domain.UserProfile, error) {
	set := bson.M{
		domain.FieldEmail:     email,
		domain.FieldUpdatedAt: a.now(),
	}
	return a.findAndSet(ctx, id, set)
}

// ApplyPatch sets the touched fields and returns the updated profile.
func (a *ProfileAdapter) ApplyPatch(ctx context.Context, id string, patch *domain.ProfilePatch) (*domain.UserProfile, error) {
	return a.findAndSet(ctx, id, setFromPatch(patch, a.now()))
}

// Delete removes the profile and returns its last state.
func (a *ProfileAdapter) Delete(ctx context.Context, id string) (*domain.UserProfile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, out.ErrProfileNotFound
	}

	return resilience.Execute(a.breaker, func() (*domain.UserProfile, error) {
		var doc profileDocument
		err := a.collection.FindOneAndDelete(ctx, bson.M{domain.FieldID: oid}).Decode(&doc)
		if err != nil {
			return nil, classifyRead(err)
		}
		return toDomain(&doc), nil
	})
}

func (a *ProfileAdapter) findAndSet(ctx context.Context, id string, set bson.M) (*domain.UserProfile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, out.ErrProfileNotFound
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return resilience.Execute(a.breaker, func() (*domain.UserProfile, error) {
		var doc profileDocument
		err := a.collection.FindOneAndUpdate(ctx, bson.M{domain.FieldID: oid}, bson.M{"$set": set}, opts).Decode(&doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, classifyWrite(err, out.ErrDuplicateEmail)
			}
			return nil, classifyRead(err)
		}
		return toDomain(&doc), nil
	})
}

// =============================================================================
// Helpers
// =============================================================================

func classifyRead(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return out.ErrProfileNotFound
	}
	return fmt.Errorf("mongodb: %w", err)
}

// classifyWrite maps a duplicate key error onto the violated index. fallback
// is used when the error does not name the email index.
func classifyWrite(err error, fallback error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongodb: %w", err)
	}
	if strings.Contains(err.Error(), indexEmailUnique) {
		return out.ErrDuplicateEmail
	}
	return fallback
}

// setFromPatch builds the $set document for the touched fields only.
func setFromPatch(patch *domain.ProfilePatch, now time.Time) bson.M {
	set := bson.M{domain.FieldUpdatedAt: now}
	if patch == nil {
		return set
	}
	if patch.FirstName != nil {
		set[domain.FieldFirstName] = *patch.FirstName
	}
	if patch.SecondName != nil {
		set[domain.FieldSecondName] = *patch.SecondName
	}
	if patch.Birthday != nil {
		set[domain.FieldBirthday] = *patch.Birthday
	}
	if patch.AvatarURL != nil {
		set[domain.FieldAvatarURL] = *patch.AvatarURL
	}
	if patch.Address != nil {
		set[domain.FieldAddress] = toAddressDocument(patch.Address)
	}
	return set
}

func toDocument(oid primitive.ObjectID, p *domain.UserProfile) *profileDocument {
	return &profileDocument{
		ID:         oid,
		Email:      p.Email,
		FirstName:  p.FirstName,
		SecondName: p.SecondName,
		Birthday:   p.Birthday,
		AvatarURL:  p.AvatarURL,
		Address:    toAddressDocument(p.Address),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func toAddressDocument(a *domain.Address) *addressDocument {
	if a == nil {
		return nil
	}
	return &addressDocument{
		Index:     a.Index,
		City:      a.City,
		Street:    a.Street,
		Apartment: a.Apartment,
	}
}

func toDomain(doc *profileDocument) *domain.UserProfile {
	p := &domain.UserProfile{
		ID:         doc.ID.Hex(),
		Email:      doc.Email,
		FirstName:  doc.FirstName,
		SecondName: doc.SecondName,
		Birthday:   doc.Birthday,
		AvatarURL:  doc.AvatarURL,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
	if doc.Address != nil {
		p.Address = &domain.Address{
			Index:     doc.Address.Index,
			City:      doc.Address.City,
			Street:    doc.Address.Street,
			Apartment: doc.Address.Apartment,
		}
	}
	return p
}

var _ out.ProfileRepository = (*ProfileAdapter)(nil)
