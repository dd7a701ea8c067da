package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"storyboard/domain"
)

const (
	settingsPartition = "settings"
	userPartition     = "user"
	productPartition  = "product"
	metaPartition     = "meta"

	constraintsRow = "constraints"
	boardRow       = "board"
	lastChangeRow  = "lastchange"

	// Extra card fields live in columns carrying this prefix so they
	// survive alongside the fixed schema.
	fieldColumnPrefix = "Field_"
)

type unknownCardError struct {
	id string
}

func (e unknownCardError) Error() string { return "unknown card " + e.id }
func (e unknownCardError) UnknownCard()  {}

// Storage provides access to underlying persistence mechanisms. Cards
// are partitioned by product; settings, users and the change marker
// share a second table.
type Storage struct {
	cardTable     *aztables.Client
	settingsTable *aztables.Client
	changeQueue   *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, cardsTable, settingsTable, changesQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	ct := svc.NewClient(cardsTable)
	st := svc.NewClient(settingsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, changesQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{cardTable: ct, settingsTable: st, changeQueue: cq}, nil
}

// FetchCards retrieves the cards of one product, optionally narrowed to
// a single sprint. Sprint "all" (or empty) returns everything.
func (s *Storage) FetchCards(ctx context.Context, product, sprint string) (map[string]domain.Card, error) {
	filter := "PartitionKey eq '" + escapeFilter(product) + "'"
	if sprint != "" && sprint != "all" {
		filter += " and Sprint eq '" + escapeFilter(sprint) + "'"
	}
	pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cards := map[string]domain.Card{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			card, err := decodeCardEntity(e)
			if err != nil {
				return nil, err
			}
			cards[card.ID] = card
		}
	}
	return cards, nil
}

// FetchCard looks a card up by id across all products.
func (s *Storage) FetchCard(ctx context.Context, id string) (domain.Card, error) {
	filter := "RowKey eq '" + escapeFilter(id) + "'"
	pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Card{}, err
		}
		for _, e := range resp.Entities {
			return decodeCardEntity(e)
		}
	}
	return domain.Card{}, unknownCardError{id: id}
}

// FetchSprints returns the distinct sprints of a product, sorted.
func (s *Storage) FetchSprints(ctx context.Context, product string) ([]string, error) {
	cards, err := s.FetchCards(ctx, product, "all")
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, card := range cards {
		if card.Sprint != "" {
			seen[card.Sprint] = struct{}{}
		}
	}
	sprints := make([]string, 0, len(seen))
	for sp := range seen {
		sprints = append(sprints, sp)
	}
	sort.Strings(sprints)
	return sprints, nil
}

// FetchSettings assembles the board settings from the settings table:
// the constraint document, the board row and the product list.
func (s *Storage) FetchSettings(ctx context.Context) (domain.BoardSettings, error) {
	var settings domain.BoardSettings

	filter := "PartitionKey eq '" + settingsPartition + "'"
	pager := s.settingsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.BoardSettings{}, err
		}
		for _, e := range resp.Entities {
			var raw map[string]any
			if err := json.Unmarshal(e, &raw); err != nil {
				return domain.BoardSettings{}, err
			}
			switch stringColumn(raw, "RowKey") {
			case constraintsRow:
				doc := stringColumn(raw, "Value")
				if doc == "" {
					continue
				}
				if err := json.Unmarshal([]byte(doc), &settings.Constraints); err != nil {
					return domain.BoardSettings{}, err
				}
			case boardRow:
				settings.DefaultProduct = stringColumn(raw, "DefaultProduct")
				if n, ok := raw["RefreshTime"].(float64); ok {
					settings.RefreshTime = int(n)
				}
			}
		}
	}

	products, err := s.fetchProducts(ctx)
	if err != nil {
		return domain.BoardSettings{}, err
	}
	settings.Products = products
	return settings, nil
}

func (s *Storage) fetchProducts(ctx context.Context) ([]string, error) {
	filter := "PartitionKey eq '" + productPartition + "'"
	pager := s.settingsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	products := []string{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var raw map[string]any
			if err := json.Unmarshal(e, &raw); err != nil {
				return nil, err
			}
			if name := stringColumn(raw, "RowKey"); name != "" {
				products = append(products, name)
			}
		}
	}
	sort.Strings(products)
	return products, nil
}

// FetchUserHash returns the stored bcrypt hash for a username.
func (s *Storage) FetchUserHash(ctx context.Context, username string) (string, error) {
	ent, err := s.settingsTable.GetEntity(ctx, userPartition, username, nil)
	if err != nil {
		if isNotFound(err) {
			return "", errors.New("unknown user " + username)
		}
		return "", err
	}
	var raw map[string]any
	if err := json.Unmarshal(ent.Value, &raw); err != nil {
		return "", err
	}
	hash := stringColumn(raw, "Hash")
	if hash == "" {
		return "", errors.New("user " + username + " has no password hash")
	}
	return hash, nil
}

// LastChange reads the global change marker. A board that was never
// written reports the zero marker.
func (s *Storage) LastChange(ctx context.Context) (domain.Marker, error) {
	ent, err := s.settingsTable.GetEntity(ctx, metaPartition, lastChangeRow, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.MarkerZero, nil
		}
		return domain.MarkerZero, err
	}
	var raw map[string]any
	if err := json.Unmarshal(ent.Value, &raw); err != nil {
		return domain.MarkerZero, err
	}
	return domain.ParseMarker(stringColumn(raw, "Marker"))
}

// MoveCard sets the status of a card and advances the change marker.
func (s *Storage) MoveCard(ctx context.Context, id, status string) (domain.Marker, error) {
	card, err := s.FetchCard(ctx, id)
	if err != nil {
		return domain.MarkerZero, err
	}

	patch := map[string]any{
		"PartitionKey": card.Product,
		"RowKey":       card.ID,
		"Status":       status,
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return domain.MarkerZero, err
	}
	if _, err := s.cardTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.MarkerZero, err
	}

	marker, err := s.touch(ctx)
	if err != nil {
		return domain.MarkerZero, err
	}
	if err := s.publishChange(ctx, changeEvent{Kind: "move", Card: id, Status: status, Marker: marker}); err != nil {
		return domain.MarkerZero, err
	}
	return marker, nil
}

// UpdateCard merges field edits into a card and advances the change
// marker. The returned map echoes the applied fields under their wire
// names.
func (s *Storage) UpdateCard(ctx context.Context, id string, fields map[string]string) (map[string]string, domain.Marker, error) {
	card, err := s.FetchCard(ctx, id)
	if err != nil {
		return nil, domain.MarkerZero, err
	}

	patch := map[string]any{
		"PartitionKey": card.Product,
		"RowKey":       card.ID,
	}
	applied := make(map[string]string, len(fields))
	for name, value := range fields {
		// Product is the partition key; moving a card between
		// products is not an edit.
		if name == "id" || name == "product" {
			continue
		}
		patch[columnForField(name)] = value
		applied[name] = value
	}
	if len(applied) == 0 {
		return applied, domain.MarkerZero, errors.New("no editable fields in update")
	}

	data, err := json.Marshal(patch)
	if err != nil {
		return nil, domain.MarkerZero, err
	}
	if _, err := s.cardTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return nil, domain.MarkerZero, err
	}

	marker, err := s.touch(ctx)
	if err != nil {
		return nil, domain.MarkerZero, err
	}
	if err := s.publishChange(ctx, changeEvent{Kind: "update", Card: id, Marker: marker}); err != nil {
		return nil, domain.MarkerZero, err
	}
	return applied, marker, nil
}

// AddCard inserts a new card and advances the change marker.
func (s *Storage) AddCard(ctx context.Context, card domain.Card) (domain.Marker, error) {
	data, err := encodeCardEntity(card)
	if err != nil {
		return domain.MarkerZero, err
	}
	if _, err := s.cardTable.AddEntity(ctx, data, nil); err != nil {
		return domain.MarkerZero, err
	}

	marker, err := s.touch(ctx)
	if err != nil {
		return domain.MarkerZero, err
	}
	if err := s.publishChange(ctx, changeEvent{Kind: "add", Card: card.ID, Status: card.Status, Marker: marker}); err != nil {
		return domain.MarkerZero, err
	}
	return marker, nil
}

// touch mints the next marker and persists it as the board-wide last
// change.
func (s *Storage) touch(ctx context.Context) (domain.Marker, error) {
	marker := nextMarker()
	ent := map[string]any{
		"PartitionKey": metaPartition,
		"RowKey":       lastChangeRow,
		"Marker":       marker.String(),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.MarkerZero, err
	}
	if _, err := s.settingsTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.MarkerZero, err
	}
	return marker, nil
}

// changeEvent is the message published to the change feed for every
// board mutation. Downstream consumers rebuild read models from it.
type changeEvent struct {
	ID     string        `json:"id"`
	Kind   string        `json:"kind"`
	Card   string        `json:"card"`
	Status string        `json:"status,omitempty"`
	Marker domain.Marker `json:"marker"`
}

func (s *Storage) publishChange(ctx context.Context, ev changeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.changeQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func encodeCardEntity(card domain.Card) ([]byte, error) {
	ent := map[string]any{
		"PartitionKey": card.Product,
		"RowKey":       card.ID,
		"Status":       card.Status,
		"Sprint":       card.Sprint,
		"Title":        card.Title,
		"Story":        card.Story,
		"Acceptance":   card.Acceptance,
	}
	for name, value := range card.Extra {
		ent[fieldColumnPrefix+name] = value
	}
	return json.Marshal(ent)
}

func decodeCardEntity(data []byte) (domain.Card, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Card{}, err
	}
	card := domain.Card{
		ID:         stringColumn(raw, "RowKey"),
		Product:    stringColumn(raw, "PartitionKey"),
		Status:     stringColumn(raw, "Status"),
		Sprint:     stringColumn(raw, "Sprint"),
		Title:      stringColumn(raw, "Title"),
		Story:      stringColumn(raw, "Story"),
		Acceptance: stringColumn(raw, "Acceptance"),
	}
	for column, value := range raw {
		name, ok := strings.CutPrefix(column, fieldColumnPrefix)
		if !ok {
			continue
		}
		if str, ok := value.(string); ok {
			card.SetField(name, str)
		}
	}
	return card, nil
}

func columnForField(name string) string {
	switch name {
	case "status":
		return "Status"
	case "sprint":
		return "Sprint"
	case "title":
		return "Title"
	case "story":
		return "Story"
	case "acceptance":
		return "Acceptance"
	default:
		return fieldColumnPrefix + name
	}
}

func stringColumn(raw map[string]any, column string) string {
	s, _ := raw[column].(string)
	return s
}

func escapeFilter(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
