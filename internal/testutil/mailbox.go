package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crm-mail-ingest-go/internal/service/mailbox"
)

// FakeMessage is one message held by a FakeMailbox
type FakeMessage struct {
	Raw          []byte
	InternalDate time.Time
	Seen         bool
}

// FakeMailbox is an in-memory mailbox.Dialer. Every Open returns a session
// over the same messages, like reconnecting to a real server.
type FakeMailbox struct {
	mu       sync.Mutex
	messages map[uint32]*FakeMessage
	nextUID  uint32

	FailOpen   error
	FailSearch error
	FailFetch  map[uint32]error
	FailMark   error

	Opens  int
	Closes int
}

var _ mailbox.Dialer = (*FakeMailbox)(nil)

func NewFakeMailbox() *FakeMailbox {
	return &FakeMailbox{
		messages:  map[uint32]*FakeMessage{},
		nextUID:   1,
		FailFetch: map[uint32]error{},
	}
}

// Deliver adds an unseen message and returns its UID
func (f *FakeMailbox) Deliver(raw string, internalDate time.Time) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := f.nextUID
	f.nextUID++
	f.messages[uid] = &FakeMessage{Raw: []byte(raw), InternalDate: internalDate}
	return uid
}

// SetSeen flips the flag the way another mail client would
func (f *FakeMailbox) SetSeen(uid uint32, seen bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[uid]; ok {
		m.Seen = seen
	}
}

func (f *FakeMailbox) IsSeen(uid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[uid]
	return ok && m.Seen
}

func (f *FakeMailbox) Open(ctx context.Context, _ mailbox.Config) (mailbox.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOpen != nil {
		return nil, &mailbox.ConnectionError{Op: "connect", Err: f.FailOpen}
	}
	f.Opens++
	return &fakeSession{box: f}, nil
}

type fakeSession struct {
	box *FakeMailbox
}

func (s *fakeSession) search(match func(m *FakeMessage) bool) ([]uint32, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if s.box.FailSearch != nil {
		return nil, &mailbox.ConnectionError{Op: "search", Err: s.box.FailSearch}
	}
	var uids []uint32
	for uid, m := range s.box.messages {
		if match(m) {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) SearchUnseen(_ context.Context) ([]uint32, error) {
	return s.search(func(m *FakeMessage) bool { return !m.Seen })
}

func (s *fakeSession) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	return s.search(func(m *FakeMessage) bool { return !m.InternalDate.Before(since) })
}

func (s *fakeSession) Fetch(_ context.Context, uid uint32) (*mailbox.Message, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if err := s.box.FailFetch[uid]; err != nil {
		return nil, err
	}
	m, ok := s.box.messages[uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrNotFound)
	}
	return &mailbox.Message{UID: uid, InternalDate: m.InternalDate, Raw: append([]byte(nil), m.Raw...)}, nil
}

func (s *fakeSession) MarkSeen(_ context.Context, uid uint32) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if s.box.FailMark != nil {
		return &mailbox.ConnectionError{Op: "store", Err: s.box.FailMark}
	}
	if m, ok := s.box.messages[uid]; ok {
		m.Seen = true
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.Closes++
	return nil
}
