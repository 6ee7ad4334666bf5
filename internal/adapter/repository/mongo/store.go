package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/simaogato/financik-backend/internal/domain"
)

const (
	accountsCollection     = "accounts"
	transactionsCollection = "transactions"
	categoriesCollection   = "categories"
	countersCollection     = "counters"

	transactionSeqCounter = "transaction_seq"
)

type accountDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	BalanceCents int64     `bson:"balance_cents"`
	Version      int64     `bson:"version"`
	CreatedAt    time.Time `bson:"created_at"`
}

type transactionDoc struct {
	ID          string    `bson:"_id"`
	Seq         int64     `bson:"seq"`
	AccountID   string    `bson:"account_id"`
	Kind        string    `bson:"kind"`
	AmountCents int64     `bson:"amount_cents"`
	Category    string    `bson:"category"`
	Title       string    `bson:"title"`
	OccurredOn  string    `bson:"occurred_on"` // yyyy-mm-dd, sorts as a date
	RecordedAt  time.Time `bson:"recorded_at"`
	State       string    `bson:"state"`
}

func (d transactionDoc) toDomain() (*domain.Transaction, error) {
	date, err := domain.ParseISODate(d.OccurredOn)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		ID:         d.ID,
		AccountID:  d.AccountID,
		Kind:       domain.Kind(d.Kind),
		Amount:     domain.NewMoneyFromCents(d.AmountCents),
		Category:   d.Category,
		Title:      d.Title,
		OccurredOn: date,
		RecordedAt: d.RecordedAt.UTC(),
		State:      domain.TransactionState(d.State),
	}, nil
}

type categoryDoc struct {
	AccountID string `bson:"account_id"`
	Name      string `bson:"name"`
}

// Store is a domain.Store on MongoDB
// Conditional balance writes run in a multi-document transaction, so the server must be
// a replica set (a single-node one is enough).
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// NewStore connects to uri, selects database and ensures indexes
func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database), now: time.Now}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(transactionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "occurred_on", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "seq", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}

	_, err = s.db.Collection(categoriesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create category index: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// CreateAccount creates a new account
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	createdAt := s.now().UTC().Truncate(time.Millisecond)
	_, err := s.db.Collection(accountsCollection).InsertOne(ctx, accountDoc{
		ID:           account.ID,
		Name:         account.Name,
		BalanceCents: account.Balance.Cents(),
		CreatedAt:    createdAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.CreatedAt = createdAt
	return nil
}

// GetAccount retrieves an account by its ID
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var doc accountDoc
	err := s.db.Collection(accountsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.NotFoundError{Entity: "account", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &domain.Account{
		ID:        doc.ID,
		Name:      doc.Name,
		Balance:   domain.NewMoneyFromCents(doc.BalanceCents),
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

func (s *Store) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": transactionSeqCounter},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return counter.Value, nil
}

// CreateTransaction stores tx as Posted and assigns its ID and RecordedAt
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	n, err := s.db.Collection(accountsCollection).CountDocuments(ctx, bson.M{"_id": tx.AccountID})
	if err != nil {
		return "", fmt.Errorf("failed to check account: %w", err)
	}
	if n == 0 {
		return "", &domain.NotFoundError{Entity: "account", ID: tx.AccountID}
	}

	seq, err := s.nextSeq(ctx)
	if err != nil {
		return "", err
	}

	doc := transactionDoc{
		ID:          uuid.NewString(),
		Seq:         seq,
		AccountID:   tx.AccountID,
		Kind:        string(tx.Kind),
		AmountCents: tx.Amount.Cents(),
		Category:    tx.Category,
		Title:       tx.Title,
		OccurredOn:  tx.OccurredOn.ISO(),
		RecordedAt:  s.now().UTC().Truncate(time.Millisecond),
		State:       string(domain.StatePosted),
	}
	if _, err := s.db.Collection(transactionsCollection).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to insert transaction: %w", err)
	}

	tx.ID = doc.ID
	tx.RecordedAt = doc.RecordedAt
	tx.State = domain.StatePosted
	return doc.ID, nil
}

// GetTransaction retrieves a transaction of an account
func (s *Store) GetTransaction(ctx context.Context, accountID, id string) (*domain.Transaction, error) {
	var doc transactionDoc
	err := s.db.Collection(transactionsCollection).
		FindOne(ctx, bson.M{"_id": id, "account_id": accountID}).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return doc.toDomain()
}

// DeleteTransaction removes a transaction of an account
func (s *Store) DeleteTransaction(ctx context.Context, accountID, id string) error {
	res, err := s.db.Collection(transactionsCollection).DeleteOne(ctx, bson.M{"_id": id, "account_id": accountID})
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	return nil
}

// ReadBalance returns the balance of an account and its version
func (s *Store) ReadBalance(ctx context.Context, accountID string) (domain.Balance, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{AccountID: accountID, Amount: account.Balance, Version: account.Version}, nil
}

// WriteBalanceIfVersion writes the balance when the version still matches
// Logic:
//  1. UpdateOne on {_id, version}; no match is a lost race unless the account is missing
//  2. When a transaction is named, UpdateOne on {_id, account_id, state: FromState}
//
// Both run in one session transaction; any error aborts both.
func (s *Store) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return domain.Balance{}, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		// 1. Conditional balance update
		res, err := s.db.Collection(accountsCollection).UpdateOne(sc,
			bson.M{"_id": w.AccountID, "version": w.ExpectedVersion},
			bson.M{
				"$set": bson.M{"balance_cents": w.Amount.Cents()},
				"$inc": bson.M{"version": 1},
			})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			n, err := s.db.Collection(accountsCollection).CountDocuments(sc, bson.M{"_id": w.AccountID})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, &domain.NotFoundError{Entity: "account", ID: w.AccountID}
			}
			return nil, domain.ErrVersionConflict
		}

		if w.TransactionID == "" {
			return nil, nil
		}

		// 2. State marker
		res, err = s.db.Collection(transactionsCollection).UpdateOne(sc,
			bson.M{"_id": w.TransactionID, "account_id": w.AccountID, "state": string(w.FromState)},
			bson.M{"$set": bson.M{"state": string(w.ToState)}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			n, err := s.db.Collection(transactionsCollection).CountDocuments(sc,
				bson.M{"_id": w.TransactionID, "account_id": w.AccountID})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, &domain.NotFoundError{Entity: "transaction", ID: w.TransactionID}
			}
			return nil, domain.ErrStateConflict
		}
		return nil, nil
	})
	if err != nil {
		if isDomainError(err) {
			return domain.Balance{}, err
		}
		// a write conflict with a concurrent transaction is a lost race
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.HasErrorLabel("TransientTransactionError") {
			return domain.Balance{}, domain.ErrVersionConflict
		}
		return domain.Balance{}, fmt.Errorf("failed to write balance: %w", err)
	}

	return domain.Balance{AccountID: w.AccountID, Amount: w.Amount, Version: w.ExpectedVersion + 1}, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict) ||
		errors.Is(err, domain.ErrStateConflict) ||
		errors.Is(err, domain.ErrNotFound)
}

// QueryTransactions returns matching transactions, newest first
func (s *Store) QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	states := make([]string, 0, len(q.EffectiveStates()))
	for _, st := range q.EffectiveStates() {
		states = append(states, string(st))
	}

	filter := bson.M{
		"account_id": q.AccountID,
		"state":      bson.M{"$in": states},
	}
	dateRange := bson.M{}
	if !q.From.IsZero() {
		dateRange["$gte"] = q.From.ISO()
	}
	if !q.To.IsZero() {
		dateRange["$lte"] = q.To.ISO()
	}
	if len(dateRange) > 0 {
		filter["occurred_on"] = dateRange
	}

	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}, {Key: "seq", Value: -1}})
	return s.find(ctx, filter, opts)
}

// ListUnsettled returns Posted and Retracting transactions, oldest first
func (s *Store) ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	filter := bson.M{"state": bson.M{"$in": []string{string(domain.StatePosted), string(domain.StateRetracting)}}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts)
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Transaction, error) {
	cursor, err := s.db.Collection(transactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}

	txs := make([]*domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		tx, err := doc.toDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", doc.ID, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// AddCategory stores a category; existing names are ignored
func (s *Store) AddCategory(ctx context.Context, category domain.Category) error {
	doc := categoryDoc{AccountID: category.AccountID, Name: category.Name}
	_, err := s.db.Collection(categoriesCollection).UpdateOne(ctx,
		bson.M{"account_id": doc.AccountID, "name": doc.Name},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to add category: %w", err)
	}
	return nil
}

// ListCategories returns the category names of an account in name order
func (s *Store) ListCategories(ctx context.Context, accountID string) ([]string, error) {
	cursor, err := s.db.Collection(categoriesCollection).Find(ctx,
		bson.M{"account_id": accountID},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []categoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	return names, nil
}

var _ domain.Store = (*Store)(nil)
