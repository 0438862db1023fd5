// Package mongo implements the low-level MongoDB client used by the turn
// archive.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/tripcrew/tripcrew/runtime/planner/archive"
	"github.com/tripcrew/tripcrew/runtime/planner/session"
	"github.com/tripcrew/tripcrew/runtime/planner/trip"
)

type (
	// Client exposes Mongo-backed operations for the turn archive.
	Client interface {
		health.Pinger

		Record(ctx context.Context, t *archive.Turn) error
		List(ctx context.Context, sessionID, cursor string, limit int) (archive.Page, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	turnDocument struct {
		ID         bson.ObjectID      `bson:"_id,omitempty"`
		SessionID  string             `bson:"session_id"`
		Turn       int                `bson:"turn"`
		Prompt     string             `bson:"prompt"`
		Status     string             `bson:"status"`
		Params     *paramsDocument    `bson:"params,omitempty"`
		Report     string             `bson:"report,omitempty"`
		Error      string             `bson:"error,omitempty"`
		History    []exchangeDocument `bson:"history,omitempty"`
		StartedAt  time.Time          `bson:"started_at"`
		FinishedAt time.Time          `bson:"finished_at"`
	}

	paramsDocument struct {
		Location          string `bson:"location"`
		Interests         string `bson:"interests"`
		Budget            string `bson:"budget"`
		NumPeople         int    `bson:"num_people"`
		TravelDates       string `bson:"travel_dates"`
		PreferredCurrency string `bson:"preferred_currency"`
	}

	exchangeDocument struct {
		Question string    `bson:"question"`
		Answer   string    `bson:"answer"`
		At       time.Time `bson:"at"`
	}
)

const (
	defaultCollection = "trip_turns"
	defaultTimeout    = 5 * time.Second
	clientName        = "archive-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Record(ctx context.Context, t *archive.Turn) error {
	if t == nil {
		return errors.New("turn is required")
	}
	if t.SessionID == "" {
		return errors.New("session id is required")
	}
	if !t.Status.Terminal() {
		return fmt.Errorf("turn status %q is not terminal", t.Status)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.coll.InsertOne(ctx, toDocument(t))
	if err != nil {
		return err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	t.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, sessionID, cursor string, limit int) (page archive.Page, err error) {
	if sessionID == "" {
		return archive.Page{}, errors.New("session id is required")
	}
	if limit <= 0 {
		return archive.Page{}, errors.New("limit must be > 0")
	}

	filter := bson.M{"session_id": sessionID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return archive.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, int64(limit+1))
	if err != nil {
		return archive.Page{}, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var turns []*archive.Turn
	for cur.Next(ctx) {
		var doc turnDocument
		if err := cur.Decode(&doc); err != nil {
			return archive.Page{}, err
		}
		turns = append(turns, fromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return archive.Page{}, err
	}

	var next string
	if len(turns) > limit {
		next = turns[limit-1].ID
		turns = turns[:limit]
	}
	return archive.Page{Turns: turns, NextCursor: next}, nil
}

func toDocument(t *archive.Turn) turnDocument {
	doc := turnDocument{
		SessionID:  t.SessionID,
		Turn:       t.Turn,
		Prompt:     t.Prompt,
		Status:     string(t.Status),
		Report:     t.Report,
		Error:      t.Error,
		StartedAt:  t.StartedAt.UTC(),
		FinishedAt: t.FinishedAt.UTC(),
	}
	if p := t.Params; p != nil {
		doc.Params = &paramsDocument{
			Location:          p.Location,
			Interests:         p.Interests,
			Budget:            p.Budget,
			NumPeople:         int(p.NumPeople),
			TravelDates:       p.TravelDates,
			PreferredCurrency: p.PreferredCurrency,
		}
	}
	for _, e := range t.History {
		doc.History = append(doc.History, exchangeDocument{Question: e.Question, Answer: e.Answer, At: e.At.UTC()})
	}
	return doc
}

func fromDocument(doc turnDocument) *archive.Turn {
	t := &archive.Turn{
		ID:         doc.ID.Hex(),
		SessionID:  doc.SessionID,
		Turn:       doc.Turn,
		Prompt:     doc.Prompt,
		Status:     session.Status(doc.Status),
		Report:     doc.Report,
		Error:      doc.Error,
		StartedAt:  doc.StartedAt,
		FinishedAt: doc.FinishedAt,
	}
	if p := doc.Params; p != nil {
		t.Params = &trip.Params{
			Location:          p.Location,
			Interests:         p.Interests,
			Budget:            p.Budget,
			NumPeople:         trip.PartySize(p.NumPeople),
			TravelDates:       p.TravelDates,
			PreferredCurrency: p.PreferredCurrency,
		}
	}
	for _, e := range doc.History {
		t.History = append(t.History, session.Exchange{Question: e.Question, Answer: e.Answer, At: e.At})
	}
	return t
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error)
	// Find returns documents matching filter in ascending _id order.
	Find(ctx context.Context, filter any, limit int64) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document)
}

func (c mongoCollection) Find(ctx context.Context, filter any, limit int64) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}
