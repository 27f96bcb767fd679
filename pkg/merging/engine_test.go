package merging

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// fakeData is the in-memory backing store shared by the port fakes
type fakeData struct {
	entities map[string]*models.Entity
	aliases  map[string]*models.EntityAlias
	reviews  map[string]*models.ReviewItem
	index    map[string]*models.EntityMatchIndex
	logs     []*models.ResolutionLogEntry
}

func newFakeData() *fakeData {
	return &fakeData{
		entities: map[string]*models.Entity{},
		aliases:  map[string]*models.EntityAlias{},
		reviews:  map[string]*models.ReviewItem{},
		index:    map[string]*models.EntityMatchIndex{},
	}
}

type fakeTx struct{ database.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }
func (fakeTx) IsOpen() bool                   { return true }

func (d *fakeData) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, fakeTx{}, nil
}

type fakeEntityStore struct{ *fakeData }

func (s fakeEntityStore) Get(_ context.Context, _ string, id string) (*models.Entity, error) {
	ent, ok := s.entities[id]
	if !ok {
		return nil, errors.Errorf("entity %s not found", id)
	}
	cp := *ent
	return &cp, nil
}

func (s fakeEntityStore) ResolveCanonical(ctx context.Context, tenantID string, id string) (*models.Entity, error) {
	current := id
	for depth := 0; depth < maxChainWalk; depth++ {
		ent, err := s.Get(ctx, tenantID, current)
		if err != nil {
			return nil, err
		}
		if !ent.IsMergedAway() {
			return ent, nil
		}
		current = *ent.ResolvedTo
	}
	return nil, errors.New("redirect chain too deep")
}

func (s fakeEntityStore) Create(_ context.Context, e *models.Entity) (*models.Entity, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	s.entities[e.ID] = &cp
	return e, nil
}

func (s fakeEntityStore) SetResolved(_ context.Context, _, id, targetID string, confidence float64, method string, expectedVersion int) error {
	ent, ok := s.entities[id]
	if !ok || ent.Version != expectedVersion {
		return errors.Errorf("version mismatch on entity %s", id)
	}
	ent.ResolvedTo = &targetID
	ent.ResolutionConfidence = &confidence
	ent.ResolutionMethod = &method
	ent.Version++
	return nil
}

func (s fakeEntityStore) UpdateCanonicalName(_ context.Context, _, id, canonicalName, normalizedName string) error {
	ent, ok := s.entities[id]
	if !ok {
		return errors.Errorf("entity %s not found", id)
	}
	ent.CanonicalName = canonicalName
	ent.NormalizedName = normalizedName
	return nil
}

type fakeAliasStore struct{ *fakeData }

func (s fakeAliasStore) Create(_ context.Context, a *models.EntityAlias) (*models.EntityAlias, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	s.aliases[a.ID] = &cp
	return a, nil
}

func (s fakeAliasStore) ListByEntity(_ context.Context, _, entityID string) ([]models.EntityAlias, error) {
	out := []models.EntityAlias{}
	for _, a := range s.aliases {
		if a.EntityID == entityID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s fakeAliasStore) GetByIDs(_ context.Context, _ string, ids []string) ([]models.EntityAlias, error) {
	out := []models.EntityAlias{}
	for _, id := range ids {
		if a, ok := s.aliases[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s fakeAliasStore) MoveAllToEntity(_ context.Context, _, fromEntityID, toEntityID string) (int, error) {
	moved := 0
	for _, a := range s.aliases {
		if a.EntityID == fromEntityID {
			a.EntityID = toEntityID
			moved++
		}
	}
	return moved, nil
}

func (s fakeAliasStore) MoveToEntity(_ context.Context, _ string, aliasIDs []string, toEntityID string) (int, error) {
	moved := 0
	for _, id := range aliasIDs {
		if a, ok := s.aliases[id]; ok {
			a.EntityID = toEntityID
			moved++
		}
	}
	return moved, nil
}

type fakeMentionStore struct{ *fakeData }

func (s fakeMentionStore) CountDistinctDocs(_ context.Context, _ string, _ []string) (int, error) {
	return 0, nil
}

func (s fakeMentionStore) ReassignEntity(_ context.Context, _, _, _ string, sourceDocs []string) (int, error) {
	return len(sourceDocs), nil
}

type fakeIndexStore struct{ *fakeData }

func (s fakeIndexStore) Upsert(_ context.Context, row *models.EntityMatchIndex) error {
	cp := *row
	s.index[row.EntityID] = &cp
	return nil
}

func (s fakeIndexStore) DeleteByEntity(_ context.Context, _, entityID string) error {
	delete(s.index, entityID)
	return nil
}

type fakeLogStore struct{ *fakeData }

func (s *fakeLogStore) Append(_ context.Context, entry *models.ResolutionLogEntry) (*models.ResolutionLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	cp := *entry
	s.logs = append(s.logs, &cp)
	return entry, nil
}

func (s *fakeLogStore) GetLatestMergeInto(_ context.Context, _, targetEntityID string) (*models.ResolutionLogEntry, error) {
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].Action == models.ResolutionActionMerge && s.logs[i].TargetID == targetEntityID {
			cp := *s.logs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeReviewStore struct{ *fakeData }

func (s fakeReviewStore) Create(_ context.Context, item *models.ReviewItem) (*models.ReviewItem, error) {
	for _, existing := range s.reviews {
		samePair := (existing.EntityAID == item.EntityAID && existing.EntityBID == item.EntityBID) ||
			(existing.EntityAID == item.EntityBID && existing.EntityBID == item.EntityAID)
		if existing.TenantID == item.TenantID && samePair {
			// matches the insert's conflict clause: confidence and evidence
			// update, status does not
			if item.Confidence > existing.Confidence {
				existing.Confidence = item.Confidence
			}
			existing.Evidence = item.Evidence
			return existing, nil
		}
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.ReviewStatusPending
	}
	cp := *item
	s.reviews[item.ID] = &cp
	return item, nil
}

func (s fakeReviewStore) GetByEntityPair(_ context.Context, tenantID, entityAID, entityBID string) (*models.ReviewItem, error) {
	for _, item := range s.reviews {
		samePair := (item.EntityAID == entityAID && item.EntityBID == entityBID) ||
			(item.EntityAID == entityBID && item.EntityBID == entityAID)
		if item.TenantID == tenantID && samePair {
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (s fakeReviewStore) UpdateStatus(_ context.Context, _, id, status string, reviewedBy *string) error {
	item, ok := s.reviews[id]
	if !ok || (item.Status != models.ReviewStatusPending && item.Status != models.ReviewStatusFlagged) {
		return errors.Errorf("review item %s not found or already reviewed", id)
	}
	item.Status = status
	item.ReviewedBy = reviewedBy
	return nil
}

func (s fakeReviewStore) RejectPendingForEntity(_ context.Context, tenantID, entityID string) (int, error) {
	rejected := 0
	for _, item := range s.reviews {
		if item.TenantID == tenantID && item.Status == models.ReviewStatusPending &&
			(item.EntityAID == entityID || item.EntityBID == entityID) {
			item.Status = models.ReviewStatusRejected
			rejected++
		}
	}
	return rejected, nil
}

func newTestMergeEngine(autoThreshold float64) (*Engine, *fakeData) {
	data := newFakeData()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	engine := NewEngine(
		logger,
		data,
		fakeEntityStore{data},
		fakeAliasStore{data},
		fakeMentionStore{data},
		fakeIndexStore{data},
		&fakeLogStore{data},
		fakeReviewStore{data},
		1,
		autoThreshold,
	)
	return engine, data
}

func (d *fakeData) addEntity(id, entityType, name, normalized string) *models.Entity {
	ent := &models.Entity{
		ID:             id,
		TenantID:       "t1",
		CorpusID:       "c1",
		EntityType:     entityType,
		CanonicalName:  name,
		NormalizedName: normalized,
	}
	d.entities[id] = ent
	d.index[id] = &models.EntityMatchIndex{TenantID: "t1", EntityID: id, CorpusID: "c1", EntityType: entityType, Normalized: normalized}
	return ent
}

func (d *fakeData) addAlias(id, entityID, alias, sourceDoc string) {
	d.aliases[id] = &models.EntityAlias{
		ID:        id,
		TenantID:  "t1",
		EntityID:  entityID,
		Alias:     alias,
		SourceDoc: sourceDoc,
	}
}

func (d *fakeData) aliasNames(entityID string) []string {
	names := []string{}
	for _, a := range d.aliases {
		if a.EntityID == entityID {
			names = append(names, a.Alias)
		}
	}
	sort.Strings(names)
	return names
}

func TestMerge_AliasUnion(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "org", "Acme", "acme")
	data.addEntity("e2", "org", "Acme Corporation", "acme corporation")
	data.addAlias("a1", "e1", "Acme", "doc-1")
	data.addAlias("a2", "e1", "ACME Inc", "doc-2")
	data.addAlias("a3", "e2", "Acme Corporation", "doc-3")

	resp, err := engine.Merge(context.Background(), "t1", MergeParams{
		SourceID:   "e1",
		TargetID:   "e2",
		Reason:     "same organization",
		Confidence: 0.9,
		Method:     models.ResolutionMethodManual,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	// the source redirects, nothing is deleted
	source := data.entities["e1"]
	require.NotNil(t, source.ResolvedTo)
	assert.Equal(t, "e2", *source.ResolvedTo)

	// the target's alias set is the union of both, plus the source's
	// canonical name
	assert.Equal(t, []string{"ACME Inc", "Acme", "Acme", "Acme Corporation"}, data.aliasNames("e2"))
	assert.Empty(t, data.aliasNames("e1"))
	assert.ElementsMatch(t, []string{"Acme", "ACME Inc", "Acme Corporation"}, resp.AliasesPreserved)

	// the blocking index only sees the survivor
	assert.NotContains(t, data.index, "e1")
	assert.Contains(t, data.index, "e2")

	require.Len(t, data.logs, 1)
	assert.Equal(t, models.ResolutionActionMerge, data.logs[0].Action)
	assert.Equal(t, resp.LogID, data.logs[0].ID)
}

func TestMerge_RejectsRedirectCycle(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "person", "J Smith", "j smith")
	data.addEntity("e2", "person", "John Smith", "john smith")
	data.addAlias("a1", "e1", "J Smith", "doc-1")
	data.addAlias("a2", "e2", "John Smith", "doc-2")

	_, err := engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e1", TargetID: "e2", Method: models.ResolutionMethodManual, Confidence: 0.9,
	})
	require.NoError(t, err)

	// e2's canonical resolution of target e1 lands back on e2 itself
	_, err = engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e2", TargetID: "e1", Method: models.ResolutionMethodManual, Confidence: 0.9,
	})
	var circular *CircularMergeError
	require.ErrorAs(t, err, &circular)

	// a merged-away source is rejected outright
	_, err = engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e1", TargetID: "e2", Method: models.ResolutionMethodManual, Confidence: 0.9,
	})
	var already *AlreadyMergedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "e1", already.EntityID)
}

func TestMerge_CrossTypeRequiresOverride(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "person", "Smith", "smith")
	data.addEntity("e2", "org", "Smith & Co", "smith co")

	_, err := engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e1", TargetID: "e2", Method: models.ResolutionMethodManual, Confidence: 0.9,
	})
	var crossType *CrossTypeError
	require.ErrorAs(t, err, &crossType)

	resp, err := engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e1", TargetID: "e2", Method: models.ResolutionMethodManual, Confidence: 0.9, Override: true,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestMerge_BelowThresholdAutoIsFlagged(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "person", "J Smith", "j smith")
	data.addEntity("e2", "person", "John Smith", "john smith")

	resp, err := engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e1", TargetID: "e2", Method: models.ResolutionMethodAuto, Confidence: 0.70,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	// the merge stands, but the pair is flagged for retroactive review
	source := data.entities["e1"]
	require.NotNil(t, source.ResolvedTo)

	item, err := fakeReviewStore{data}.GetByEntityPair(context.Background(), "t1", "e1", "e2")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.ReviewStatusFlagged, item.Status)
	assert.Equal(t, 0.70, item.Confidence)
}

func TestMerge_AboveThresholdAutoNotFlagged(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "person", "J Smith", "j smith")
	data.addEntity("e2", "person", "John Smith", "john smith")

	_, err := engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e1", TargetID: "e2", Method: models.ResolutionMethodAuto, Confidence: 0.92,
	})
	require.NoError(t, err)
	assert.Empty(t, data.reviews)

	// a manual merge is never flagged regardless of confidence
	data.addEntity("e3", "person", "Jon Smith", "jon smith")
	_, err = engine.Merge(context.Background(), "t1", MergeParams{
		SourceID: "e3", TargetID: "e2", Method: models.ResolutionMethodManual, Confidence: 0.10,
	})
	require.NoError(t, err)
	assert.Empty(t, data.reviews)
}

func TestSplit_AliasConservation(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "person", "John Smith", "john smith")
	data.addAlias("a1", "e1", "John Smith", "doc-1")
	data.addAlias("a2", "e1", "J Smith", "doc-2")
	data.addAlias("a3", "e1", "Johnny Smith", "doc-3")

	before := data.aliasNames("e1")

	resp, err := engine.Split(context.Background(), "t1", "e1", models.SplitRequest{
		AliasIDs: []string{"a3"},
		Reason:   "different person",
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.NewEntityID)
	assert.Equal(t, "Johnny Smith", resp.NewEntityName)

	// aliases(new) and aliases(remaining) partition the original set
	remaining := data.aliasNames("e1")
	moved := data.aliasNames(resp.NewEntityID)
	assert.Equal(t, []string{"J Smith", "John Smith"}, remaining)
	assert.Equal(t, []string{"Johnny Smith"}, moved)
	assert.ElementsMatch(t, before, append(append([]string{}, remaining...), moved...))

	// both entities stay queryable through the blocking index
	assert.Contains(t, data.index, "e1")
	assert.Contains(t, data.index, resp.NewEntityID)

	require.Len(t, data.logs, 1)
	assert.Equal(t, models.ResolutionActionSplit, data.logs[0].Action)
}

func TestSplit_MustLeaveAnAlias(t *testing.T) {
	engine, data := newTestMergeEngine(0.85)
	data.addEntity("e1", "person", "John Smith", "john smith")
	data.addAlias("a1", "e1", "John Smith", "doc-1")
	data.addAlias("a2", "e1", "J Smith", "doc-2")

	_, err := engine.Split(context.Background(), "t1", "e1", models.SplitRequest{
		AliasIDs: []string{"a1", "a2"},
		Reason:   "split everything",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one alias")
}
