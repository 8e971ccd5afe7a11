package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/testengine/internal/model"
)

type answerKey struct {
	attemptID  uuid.UUID
	questionID uuid.UUID
}

// MemoryStore is an in-process Store. Transactions are serialized behind a
// single mutex and stage their writes until fn returns nil.
type MemoryStore struct {
	mu        sync.Mutex
	tests     map[uuid.UUID]model.Test
	attempts  map[uuid.UUID]model.Attempt
	sessions  map[uuid.UUID]model.TestSession
	answers   map[answerKey]model.StudentAnswer
	snapshots map[uuid.UUID]model.AnalyticsSnapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tests:     make(map[uuid.UUID]model.Test),
		attempts:  make(map[uuid.UUID]model.Attempt),
		sessions:  make(map[uuid.UUID]model.TestSession),
		answers:   make(map[answerKey]model.StudentAnswer),
		snapshots: make(map[uuid.UUID]model.AnalyticsSnapshot),
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		attempts:  make(map[uuid.UUID]model.Attempt),
		sessions:  make(map[uuid.UUID]model.TestSession),
		answers:   make(map[answerKey]model.StudentAnswer),
		snapshots: make(map[uuid.UUID]model.AnalyticsSnapshot),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTestLocked(id)
}

func (s *MemoryStore) getTestLocked(id uuid.UUID) (*model.Test, error) {
	t, ok := s.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTest(t), nil
}

func (s *MemoryStore) ListActiveTestIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tests := make([]model.Test, 0, len(s.tests))
	for _, t := range s.tests {
		if t.IsActive {
			tests = append(tests, t)
		}
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].CreatedAt.Before(tests[j].CreatedAt) })

	ids := make([]uuid.UUID, len(tests))
	for i, t := range tests {
		ids[i] = t.ID
	}
	return ids, nil
}

// CreateTest stores t, assigning IDs to the test, its sections and its
// questions where missing.
func (s *MemoryStore) CreateTest(_ context.Context, t *model.Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if _, ok := s.tests[t.ID]; ok {
		return ErrDuplicate
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	seenOrder := make(map[int]bool)
	for i := range t.Sections {
		sec := &t.Sections[i]
		if sec.ID == uuid.Nil {
			sec.ID = uuid.New()
		}
		sec.TestID = t.ID
		for j := range sec.Questions {
			q := &sec.Questions[j]
			if seenOrder[q.Order] {
				return ErrDuplicate
			}
			seenOrder[q.Order] = true
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			q.TestID, q.SectionID = t.ID, sec.ID
		}
	}
	s.tests[t.ID] = *cloneTest(*t)
	return nil
}

func (s *MemoryStore) ListAttemptsByStudent(_ context.Context, studentID int) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Attempt{}
	for _, a := range s.attempts {
		if a.StudentID == studentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, attemptID uuid.UUID) (*model.AnalyticsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	snap.Answers = append([]model.SnapshotAnswer(nil), snap.Answers...)
	return &snap, nil
}

func cloneTest(t model.Test) *model.Test {
	out := t
	out.Sections = make([]model.Section, len(t.Sections))
	for i, sec := range t.Sections {
		sec.Questions = append([]model.Question{}, sec.Questions...)
		out.Sections[i] = sec
	}
	return &out
}

// memTx overlays staged writes on the store. The store mutex is held for
// the lifetime of the transaction.
type memTx struct {
	store     *MemoryStore
	attempts  map[uuid.UUID]model.Attempt
	sessions  map[uuid.UUID]model.TestSession
	answers   map[answerKey]model.StudentAnswer
	snapshots map[uuid.UUID]model.AnalyticsSnapshot
}

func (t *memTx) commit() {
	for id, a := range t.attempts {
		t.store.attempts[id] = a
	}
	for id, s := range t.sessions {
		t.store.sessions[id] = s
	}
	for k, a := range t.answers {
		t.store.answers[k] = a
	}
	for id, snap := range t.snapshots {
		t.store.snapshots[id] = snap
	}
}

func (t *memTx) attempt(id uuid.UUID) (model.Attempt, bool) {
	if a, ok := t.attempts[id]; ok {
		return a, true
	}
	a, ok := t.store.attempts[id]
	return a, ok
}

func (t *memTx) session(id uuid.UUID) (model.TestSession, bool) {
	if s, ok := t.sessions[id]; ok {
		return s, true
	}
	s, ok := t.store.sessions[id]
	return s, ok
}

func (t *memTx) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	return t.store.getTestLocked(id)
}

func (t *memTx) HasOpenAttempt(_ context.Context, studentID int, testID uuid.UUID) (bool, error) {
	open := func(a model.Attempt) bool {
		return a.StudentID == studentID && a.TestID == testID && !a.Status.Terminal()
	}
	for _, a := range t.attempts {
		if open(a) {
			return true, nil
		}
	}
	for id, a := range t.store.attempts {
		if _, staged := t.attempts[id]; staged {
			continue
		}
		if open(a) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateAttempt(ctx context.Context, a *model.Attempt, s *model.TestSession) error {
	if _, err := t.store.getTestLocked(a.TestID); err != nil {
		return err
	}
	open, err := t.HasOpenAttempt(ctx, a.StudentID, a.TestID)
	if err != nil {
		return err
	}
	if open {
		return ErrDuplicate
	}

	a.ID = uuid.New()
	a.Version = 1
	a.UpdatedAt = a.CreatedAt
	s.AttemptID = a.ID
	t.attempts[a.ID] = *a
	t.sessions[a.ID] = *s
	return nil
}

func (t *memTx) LockAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, *model.TestSession, error) {
	a, ok := t.attempt(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	s, ok := t.session(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	return &a, &s, nil
}

func (t *memTx) UpdateAttempt(_ context.Context, a *model.Attempt) error {
	cur, ok := t.attempt(a.ID)
	if !ok {
		return ErrNotFound
	}
	if cur.Version != a.Version {
		return ErrConflict
	}
	a.Version++
	t.attempts[a.ID] = *a
	return nil
}

func (t *memTx) UpdateSession(_ context.Context, s *model.TestSession) error {
	if _, ok := t.session(s.AttemptID); !ok {
		return ErrNotFound
	}
	t.sessions[s.AttemptID] = *s
	return nil
}

func (t *memTx) UpsertAnswer(_ context.Context, ans *model.StudentAnswer) error {
	if _, ok := t.attempt(ans.AttemptID); !ok {
		return ErrNotFound
	}
	key := answerKey{attemptID: ans.AttemptID, questionID: ans.QuestionID}
	if prev, ok := t.answers[key]; ok {
		ans.ID = prev.ID
	} else if prev, ok := t.store.answers[key]; ok {
		ans.ID = prev.ID
	} else {
		ans.ID = uuid.New()
	}
	t.answers[key] = *ans
	return nil
}

func (t *memTx) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.StudentAnswer, error) {
	merged := make(map[answerKey]model.StudentAnswer)
	for k, a := range t.store.answers {
		if k.attemptID == attemptID {
			merged[k] = a
		}
	}
	for k, a := range t.answers {
		if k.attemptID == attemptID {
			merged[k] = a
		}
	}

	order := make(map[uuid.UUID]int)
	if a, ok := t.attempt(attemptID); ok {
		if test, ok := t.store.tests[a.TestID]; ok {
			for _, q := range test.Questions() {
				order[q.ID] = q.Order
			}
		}
	}

	out := make([]model.StudentAnswer, 0, len(merged))
	for _, a := range merged {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].QuestionID] < order[out[j].QuestionID] })
	return out, nil
}

func (t *memTx) UpsertSnapshot(_ context.Context, snap *model.AnalyticsSnapshot) error {
	if _, ok := t.attempt(snap.AttemptID); !ok {
		return ErrNotFound
	}
	cp := *snap
	cp.Answers = append([]model.SnapshotAnswer(nil), snap.Answers...)
	t.snapshots[snap.AttemptID] = cp
	return nil
}
