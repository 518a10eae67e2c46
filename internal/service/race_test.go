package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pliu/banter/internal/blob"
	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
	"github.com/pliu/banter/internal/store/sqlstore"
	"golang.org/x/crypto/bcrypt"
)

// scriptedStore delegates to a real store unless a test replaces a call.
type scriptedStore struct {
	store.Store

	getUser     func(ctx context.Context, name string) (*models.User, error)
	createUser  func(ctx context.Context, user *models.User) error
	findDirect  func(ctx context.Context, pairKey string) (*models.Chat, error)
	createChat  func(ctx context.Context, chat *models.Chat) error
	saveMessage func(ctx context.Context, msg *models.Message, preview string) error
}

func (s *scriptedStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	if s.getUser != nil {
		return s.getUser(ctx, name)
	}
	return s.Store.GetUserByName(ctx, name)
}

func (s *scriptedStore) CreateUser(ctx context.Context, user *models.User) error {
	if s.createUser != nil {
		return s.createUser(ctx, user)
	}
	return s.Store.CreateUser(ctx, user)
}

func (s *scriptedStore) FindDirectChat(ctx context.Context, pairKey string) (*models.Chat, error) {
	if s.findDirect != nil {
		return s.findDirect(ctx, pairKey)
	}
	return s.Store.FindDirectChat(ctx, pairKey)
}

func (s *scriptedStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if s.createChat != nil {
		return s.createChat(ctx, chat)
	}
	return s.Store.CreateChat(ctx, chat)
}

func (s *scriptedStore) SaveMessage(ctx context.Context, msg *models.Message, preview string) error {
	if s.saveMessage != nil {
		return s.saveMessage(ctx, msg, preview)
	}
	return s.Store.SaveMessage(ctx, msg, preview)
}

func setupScripted(t *testing.T) (*Service, *scriptedStore, string) {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	blobs, err := blob.NewDiskStore(dir, "/voices", 1024)
	if err != nil {
		t.Fatal(err)
	}
	scripted := &scriptedStore{Store: st}
	return New(scripted, &recordingPublisher{}, blobs, Options{BcryptCost: bcrypt.MinCost}), scripted, dir
}

func TestLoginLosesNameRace(t *testing.T) {
	svc, st, _ := setupScripted(t)

	// Both logins saw the name free; the other one inserted first.
	st.getUser = func(ctx context.Context, name string) (*models.User, error) {
		return nil, store.ErrNotFound
	}
	st.createUser = func(ctx context.Context, user *models.User) error {
		return store.ErrDuplicate
	}

	_, err := svc.Login(context.Background(), "alice", "pw")
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("Expected ErrNameTaken, got %v", err)
	}
}

func TestGetOrCreateDirectChatLosesRace(t *testing.T) {
	svc, st, _ := setupScripted(t)
	ctx := context.Background()

	winner := &models.Chat{Participants: []string{"bob", "alice"}, PairKey: models.PairKey("alice", "bob")}
	if err := st.Store.CreateChat(ctx, winner); err != nil {
		t.Fatal(err)
	}

	finds, creates := 0, 0
	st.findDirect = func(ctx context.Context, pairKey string) (*models.Chat, error) {
		finds++
		if finds == 1 {
			return nil, store.ErrNotFound
		}
		return st.Store.FindDirectChat(ctx, pairKey)
	}
	st.createChat = func(ctx context.Context, chat *models.Chat) error {
		creates++
		return st.Store.CreateChat(ctx, chat)
	}

	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Expected the winning chat, got %v", err)
	}
	if chat.ID != winner.ID {
		t.Errorf("Expected chat %s, got %s", winner.ID, chat.ID)
	}
	if creates != 1 || finds != 2 {
		t.Errorf("Expected one failed create and a re-read, got %d creates and %d finds", creates, finds)
	}
}

func TestConcurrentLogin(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Login(ctx, "alice", "pw")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrNameTaken):
			t.Errorf("Unexpected login error: %v", err)
		}
	}
	if ok == 0 {
		t.Error("Expected at least one login to succeed")
	}

	users, _ := svc.SearchUsers(ctx, "alice")
	if len(users) != 1 {
		t.Errorf("Expected exactly one alice, got %d", len(users))
	}
	if _, err := svc.Login(ctx, "alice", "pw"); err != nil {
		t.Errorf("Login after the race failed: %v", err)
	}
}

func TestConcurrentGetOrCreateDirectChat(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			chat, err := svc.GetOrCreateDirectChat(ctx, a, b)
			if err != nil {
				t.Errorf("GetOrCreateDirectChat(%s, %s) failed: %v", a, b, err)
				return
			}
			ids <- chat.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	distinct := map[string]bool{}
	for id := range ids {
		distinct[id] = true
	}
	if len(distinct) != 1 {
		t.Errorf("Expected one chat, got %d distinct ids", len(distinct))
	}
	chats, _ := svc.ListChats(ctx, "alice")
	if len(chats) != 1 {
		t.Errorf("Expected alice to have one chat, got %d", len(chats))
	}
}

func TestSendVoiceRemovesClipWhenSaveFails(t *testing.T) {
	svc, st, dir := setupScripted(t)
	ctx := context.Background()

	chat, err := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	st.saveMessage = func(ctx context.Context, msg *models.Message, preview string) error {
		if msg.Voice == "" {
			return errors.New("expected a stored clip")
		}
		return errors.New("database is locked")
	}

	_, err = svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Voice: strings.NewReader("OggS")})
	if !errors.Is(err, ErrStore) {
		t.Errorf("Expected ErrStore, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("Expected no clip left behind, got %d files", len(entries))
	}
}
