package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/oracle"
	"github.com/docorganizer/docorganizer/internal/provision"
	"github.com/docorganizer/docorganizer/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// fakeStore is an in-memory UserStore.
type fakeStore struct {
	users   map[string]*models.User
	pending map[string]*models.PendingAction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]*models.User{},
		pending: map[string]*models.PendingAction{},
	}
}

func (s *fakeStore) Get(phone string) (*models.User, bool) {
	u, ok := s.users[phone]
	return u, ok
}

func (s *fakeStore) ensure(phone string) *models.User {
	if u, ok := s.users[phone]; ok {
		return u
	}
	u := &models.User{Phone: phone, Status: models.StatusNew}
	s.users[phone] = u
	return u
}

func (s *fakeStore) SetStatus(phone, status string) error {
	s.ensure(phone).Status = status
	return nil
}

func (s *fakeStore) SetSyllabusDraft(phone string, draft models.Syllabus) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	s.ensure(phone).SyllabusDraft = datatypes.JSON(raw)
	return nil
}

func (s *fakeStore) SetFolderMap(phone string, folders models.FolderMap) error {
	raw, err := json.Marshal(folders)
	if err != nil {
		return err
	}
	s.ensure(phone).FolderMap = datatypes.JSON(raw)
	return nil
}

func (s *fakeStore) SetRootFolder(phone, folderID string) error {
	s.ensure(phone).RootFolderID = folderID
	return nil
}

func (s *fakeStore) StagePending(action models.PendingAction) error {
	action.ExpiresAt = time.Now().Add(models.PendingActionTTL)
	s.pending[action.Phone] = &action
	return nil
}

func (s *fakeStore) GetPending(phone string) (*models.PendingAction, bool) {
	a, ok := s.pending[phone]
	if !ok || !a.ExpiresAt.After(time.Now()) {
		return nil, false
	}
	return a, true
}

func (s *fakeStore) ClearPending(phone string) error {
	delete(s.pending, phone)
	return nil
}

func (s *fakeStore) TakeExpiredPending(now time.Time) ([]models.PendingAction, error) {
	var expired []models.PendingAction
	for phone, a := range s.pending {
		if a.ExpiresAt.Before(now) {
			expired = append(expired, *a)
			delete(s.pending, phone)
		}
	}
	return expired, nil
}

// fakeMessenger records outbound traffic and serves canned media bytes.
type fakeMessenger struct {
	texts      []string
	buttonMsgs []string
	buttons    [][]whatsapp.Button
	mediaBody  []byte
	mediaErr   error
}

func (m *fakeMessenger) SendText(ctx context.Context, to, body string) error {
	m.texts = append(m.texts, body)
	return nil
}

func (m *fakeMessenger) SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) error {
	m.buttonMsgs = append(m.buttonMsgs, body)
	m.buttons = append(m.buttons, buttons)
	return nil
}

func (m *fakeMessenger) DownloadMedia(ctx context.Context, mediaID, destPath string) error {
	if m.mediaErr != nil {
		return m.mediaErr
	}
	body := m.mediaBody
	if body == nil {
		body = []byte("file content")
	}
	return os.WriteFile(destPath, body, 0o644)
}

func (m *fakeMessenger) allText() string {
	return strings.Join(append(append([]string{}, m.texts...), m.buttonMsgs...), "\n")
}

// fakeOracle returns canned results.
type fakeOracle struct {
	syllabus models.Syllabus
	proposal oracle.Proposal
	intent   oracle.Intent
}

func (o *fakeOracle) ExtractSyllabus(ctx context.Context, filePath string) models.Syllabus {
	return o.syllabus
}

func (o *fakeOracle) ClassifyFile(ctx context.Context, filePath string, folderNames map[string][]string) oracle.Proposal {
	return o.proposal
}

func (o *fakeOracle) ClassifyIntent(ctx context.Context, text string, folderNames map[string][]string) oracle.Intent {
	return o.intent
}

// fakeQueue records enqueued background work.
type fakeQueue struct {
	parsed      []string
	provisioned []string
	sorted      []string
	sortPaths   []string
}

func (q *fakeQueue) ParseSyllabus(phone, mediaID, localPath string) error {
	q.parsed = append(q.parsed, phone)
	return nil
}

func (q *fakeQueue) ProvisionFolders(phone string) error {
	q.provisioned = append(q.provisioned, phone)
	return nil
}

func (q *fakeQueue) SortFile(phone, mediaID, localPath string) error {
	q.sorted = append(q.sorted, phone)
	q.sortPaths = append(q.sortPaths, localPath)
	return nil
}

// fakeOps is an in-memory Drive.
type fakeOps struct {
	nextID  int
	created []string
	uploads []string // "name->folderID"
	listed  []drive.File
	listErr error
}

func (f *fakeOps) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f.nextID++
	f.created = append(f.created, name)
	return fmt.Sprintf("folder-%d", f.nextID), nil
}

func (f *fakeOps) Upload(ctx context.Context, localPath, name, mimeType, folderID string) (string, error) {
	f.uploads = append(f.uploads, name+"->"+folderID)
	return "file-1", nil
}

func (f *fakeOps) List(ctx context.Context, folderID, nameContains string) ([]drive.File, error) {
	return f.listed, f.listErr
}

type fixture struct {
	engine *Engine
	store  *fakeStore
	msgr   *fakeMessenger
	oracle *fakeOracle
	queue  *fakeQueue
	ops    *fakeOps
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		store:  newFakeStore(),
		msgr:   &fakeMessenger{},
		oracle: &fakeOracle{},
		queue:  &fakeQueue{},
		ops:    &fakeOps{},
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "https://app.example.com"
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	resolver := ResolverFunc(func(ctx context.Context, storedToken string) (drive.Ops, error) {
		if storedToken == "" {
			return nil, drive.ErrNoCredential
		}
		return f.ops, nil
	})
	f.engine = New(f.store, f.msgr, f.oracle, resolver, provision.New(logger), f.queue, opts, logger)
	return f
}

func textEnvelope(from, body string) *whatsapp.Envelope {
	return &whatsapp.Envelope{Entry: []whatsapp.Entry{{Changes: []whatsapp.Change{{Value: whatsapp.Value{
		Messages: []whatsapp.Message{{From: from, Type: whatsapp.TypeText, Text: &whatsapp.Text{Body: body}}},
	}}}}}}
}

func documentEnvelope(from, mediaID, mimeType string) *whatsapp.Envelope {
	return &whatsapp.Envelope{Entry: []whatsapp.Entry{{Changes: []whatsapp.Change{{Value: whatsapp.Value{
		Messages: []whatsapp.Message{{From: from, Type: whatsapp.TypeDocument, Document: &whatsapp.Media{ID: mediaID, MimeType: mimeType}}},
	}}}}}}
}

func buttonEnvelope(from, buttonID string) *whatsapp.Envelope {
	return &whatsapp.Envelope{Entry: []whatsapp.Entry{{Changes: []whatsapp.Change{{Value: whatsapp.Value{
		Messages: []whatsapp.Message{{From: from, Type: whatsapp.TypeInteractive, Interactive: &whatsapp.Interactive{
			ButtonReply: &whatsapp.ButtonReply{ID: buttonID},
		}}},
	}}}}}}
}

func mustJSON(t *testing.T, v any) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}

func TestStatusOnlyDeliveryIgnored(t *testing.T) {
	f := newFixture(Options{})

	f.engine.HandleInbound(context.Background(), &whatsapp.Envelope{
		Entry: []whatsapp.Entry{{Changes: []whatsapp.Change{{Value: whatsapp.Value{}}}}},
	})

	assert.Empty(t, f.store.users)
	assert.Empty(t, f.msgr.texts)
}

func TestVerifyWithoutCredentialFails(t *testing.T) {
	f := newFixture(Options{})

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "VERIFY"))

	require.Len(t, f.msgr.texts, 1)
	assert.Contains(t, f.msgr.texts[0], "Verification Failed")
	// No record is created by a failed verification.
	_, found := f.store.Get("911234")
	assert.False(t, found)
}

func TestVerifyLinkedWithFoldersActivates(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:        "911234",
		Status:       models.StatusAwaitingLogin,
		GoogleToken:  `{"access_token":"tok"}`,
		RootFolderID: "root-1",
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "verify"))

	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusActive, user.Status)
	assert.Contains(t, f.msgr.texts[0], "You are ready")
}

func TestVerifyLinkedWithoutFoldersConnects(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:       "911234",
		Status:      models.StatusAwaitingLogin,
		GoogleToken: `{"access_token":"tok"}`,
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "VERIFY"))

	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusConnected, user.Status)
	assert.Contains(t, f.msgr.texts[0], "Linked Successfully")
}

func TestNewUserGetsOnboardingLink(t *testing.T) {
	f := newFixture(Options{FrontendURL: "https://app.example.com"})

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "hello"))

	require.Len(t, f.msgr.texts, 1)
	assert.Contains(t, f.msgr.texts[0], "https://app.example.com/?phone=911234")
	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusAwaitingLogin, user.Status)
}

func TestNewUserFileNeverTriggersUpload(t *testing.T) {
	f := newFixture(Options{})

	f.engine.HandleInbound(context.Background(), documentEnvelope("911234", "media-1", "application/pdf"))

	assert.Empty(t, f.queue.sorted)
	assert.Empty(t, f.ops.uploads)
	// The file is treated as any first contact: onboarding link.
	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusAwaitingLogin, user.Status)
}

func TestAwaitingSyllabusDocumentEnqueuesParse(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusAwaitingSyllabus}

	f.engine.HandleInbound(context.Background(), documentEnvelope("911234", "media-1", "application/pdf"))

	assert.Equal(t, []string{"911234"}, f.queue.parsed)
	assert.Contains(t, f.msgr.texts[0], "Reading your syllabus")
}

func TestAwaitingSyllabusTextReprompts(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusAwaitingSyllabus}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "here you go"))

	assert.Empty(t, f.queue.parsed)
	assert.Contains(t, f.msgr.texts[0], "PDF/Image of your syllabus")
}

func TestEditingListAddSubject(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:         "911234",
		Status:        models.StatusEditingList,
		SyllabusDraft: mustJSON(t, models.Syllabus{"Physics": {"Unit 1"}}),
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "add Chemistry"))

	user, _ := f.store.Get("911234")
	draft, err := user.Syllabus()
	require.NoError(t, err)
	assert.Equal(t, models.Syllabus{
		"Physics":   {"Unit 1"},
		"Chemistry": {"Unit 1", "Unit 2", "Unit 3", "Unit 4", "Unit 5"},
	}, draft)
	assert.Equal(t, models.StatusEditingList, user.Status)
	assert.Contains(t, f.msgr.texts[0], "Added Chemistry")
}

func TestEditingListRemoveMissingSubjectLeavesDraft(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:         "911234",
		Status:        models.StatusEditingList,
		SyllabusDraft: mustJSON(t, models.Syllabus{"Physics": {"Unit 1"}}),
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "remove Biology"))

	user, _ := f.store.Get("911234")
	draft, err := user.Syllabus()
	require.NoError(t, err)
	assert.Equal(t, models.Syllabus{"Physics": {"Unit 1"}}, draft)
	assert.Equal(t, models.StatusEditingList, user.Status)
	assert.Contains(t, f.msgr.texts[0], "Subject not found")
}

func TestEditingListRemoveMatchesSubstringCaseInsensitively(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:         "911234",
		Status:        models.StatusEditingList,
		SyllabusDraft: mustJSON(t, models.Syllabus{"Engineering Physics": {"Unit 1"}, "Maths": {"Unit 1"}}),
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "remove physics"))

	user, _ := f.store.Get("911234")
	draft, err := user.Syllabus()
	require.NoError(t, err)
	assert.Equal(t, models.Syllabus{"Maths": {"Unit 1"}}, draft)
	assert.Contains(t, f.msgr.texts[0], "Removed Engineering Physics")
}

func TestEditingListConfirmEnqueuesProvisioning(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:         "911234",
		Status:        models.StatusEditingList,
		SyllabusDraft: mustJSON(t, models.Syllabus{"Physics": {"Unit 1"}}),
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "Confirm"))
	f.engine.HandleInbound(context.Background(), buttonEnvelope("911234", ButtonSetupConfirm))

	assert.Equal(t, []string{"911234", "911234"}, f.queue.provisioned)
}

func TestActiveFileEnqueuesSortWithUniquePaths(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusActive}

	f.engine.HandleInbound(context.Background(), documentEnvelope("911234", "media-1", "application/pdf"))
	f.engine.HandleInbound(context.Background(), documentEnvelope("911234", "media-2", "application/pdf"))

	require.Len(t, f.queue.sortPaths, 2)
	assert.NotEqual(t, f.queue.sortPaths[0], f.queue.sortPaths[1])
	assert.True(t, strings.HasSuffix(f.queue.sortPaths[0], ".pdf"))
}

func TestActiveNonSearchTextGetsHint(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusActive}
	f.oracle.intent = oracle.Intent{IsSearch: false}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "thanks!"))

	require.Len(t, f.msgr.texts, 1)
	assert.Contains(t, f.msgr.texts[0], "Send me a file to save")
}

func TestActiveSearchRepliesWithResults(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:        "911234",
		Status:       models.StatusActive,
		GoogleToken:  `{"access_token":"tok"}`,
		RootFolderID: "root-1",
		FolderMap:    mustJSON(t, models.FolderMap{"Physics": {ID: "phys-1", Units: map[string]string{"Unit 1": "u1"}}}),
	}
	f.oracle.intent = oracle.Intent{IsSearch: true, Subject: "Physics", Keyword: "notes"}
	f.ops.listed = []drive.File{
		{ID: "f1", Name: "waves_notes.pdf", MimeType: "application/pdf", WebViewLink: "https://drive.example/f1"},
	}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "Get Physics notes"))

	all := f.msgr.allText()
	assert.Contains(t, all, "Searching for 'Get Physics notes'")
	assert.Contains(t, all, "Found 1 files")
	assert.Contains(t, all, "waves_notes.pdf")
	assert.Contains(t, all, "https://drive.example/f1")
}

func TestActiveSearchWithNoResults(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:        "911234",
		Status:       models.StatusActive,
		GoogleToken:  `{"access_token":"tok"}`,
		RootFolderID: "root-1",
	}
	f.oracle.intent = oracle.Intent{IsSearch: true, Keyword: "aadhar"}

	f.engine.HandleInbound(context.Background(), textEnvelope("911234", "find aadhar card"))

	assert.Contains(t, f.msgr.allText(), "No files found")
}

func TestProcessSyllabusSuccessMovesToEditing(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusAwaitingSyllabus}
	f.oracle.syllabus = models.Syllabus{"Physics": {"Unit 1", "Unit 2"}}

	localPath := filepath.Join(t.TempDir(), "syllabus.pdf")
	err := f.engine.ProcessSyllabus(context.Background(), "911234", "media-1", localPath)
	require.NoError(t, err)

	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusEditingList, user.Status)
	draft, err := user.Syllabus()
	require.NoError(t, err)
	assert.Equal(t, []string{"Unit 1", "Unit 2"}, draft["Physics"])

	require.Len(t, f.msgr.buttonMsgs, 1)
	assert.Contains(t, f.msgr.buttonMsgs[0], "Analysis Complete")
	assert.Equal(t, ButtonSetupConfirm, f.msgr.buttons[0][0].ID)

	// The temp file is cleaned up either way.
	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessSyllabusEmptyExtractionAsksForRetry(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusAwaitingSyllabus}
	f.oracle.syllabus = models.Syllabus{}

	localPath := filepath.Join(t.TempDir(), "syllabus.pdf")
	err := f.engine.ProcessSyllabus(context.Background(), "911234", "media-1", localPath)
	require.NoError(t, err)

	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusAwaitingSyllabus, user.Status)
	assert.Contains(t, f.msgr.texts[0], "couldn't read that file")
}

func TestProvisionFoldersActivatesUser(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:         "911234",
		Status:        models.StatusEditingList,
		GoogleToken:   `{"access_token":"tok"}`,
		SyllabusDraft: mustJSON(t, models.Syllabus{"Physics": {"Unit 1"}}),
	}

	err := f.engine.ProvisionFolders(context.Background(), "911234")
	require.NoError(t, err)

	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusActive, user.Status)
	assert.NotEmpty(t, user.RootFolderID)

	folders, err := user.Folders()
	require.NoError(t, err)
	assert.Contains(t, folders, "Physics")
	assert.Contains(t, f.ops.created, "Smart Docs - 911234")
	assert.Contains(t, f.msgr.allText(), "Setup Complete")
}

func TestProvisionFoldersWithoutDraft(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:       "911234",
		Status:      models.StatusEditingList,
		GoogleToken: `{"access_token":"tok"}`,
	}

	err := f.engine.ProvisionFolders(context.Background(), "911234")
	require.NoError(t, err)

	user, _ := f.store.Get("911234")
	assert.Equal(t, models.StatusEditingList, user.Status)
	assert.Contains(t, f.msgr.texts[0], "Upload syllabus again")
	assert.Empty(t, f.ops.created)
}

func TestProcessFileAutoSaves(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{
		Phone:        "911234",
		Status:       models.StatusActive,
		GoogleToken:  `{"access_token":"tok"}`,
		RootFolderID: "root-1",
		FolderMap:    mustJSON(t, models.FolderMap{"Physics": {ID: "phys-1", Units: map[string]string{"Unit 1": "u1"}}}),
	}
	f.oracle.proposal = oracle.Proposal{Subject: "Physics", Unit: "Unit 1", SuggestedName: "waves_notes.pdf"}

	localPath := filepath.Join(t.TempDir(), "file.pdf")
	err := f.engine.ProcessFile(context.Background(), "911234", "media-1", localPath)
	require.NoError(t, err)

	assert.Equal(t, []string{"waves_notes.pdf->u1"}, f.ops.uploads)
	assert.Contains(t, f.msgr.allText(), "Auto-Saved")
	assert.Contains(t, f.msgr.allText(), "Physics > Unit 1")

	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessFileSkipsInactiveUser(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusConnected}

	localPath := filepath.Join(t.TempDir(), "file.pdf")
	err := f.engine.ProcessFile(context.Background(), "911234", "media-1", localPath)
	require.NoError(t, err)

	assert.Empty(t, f.ops.uploads)
	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessFileWithConfirmStagesPending(t *testing.T) {
	f := newFixture(Options{SortConfirm: true})
	f.store.users["911234"] = &models.User{
		Phone:        "911234",
		Status:       models.StatusActive,
		GoogleToken:  `{"access_token":"tok"}`,
		RootFolderID: "root-1",
		FolderMap:    mustJSON(t, models.FolderMap{"Physics": {ID: "phys-1", Units: map[string]string{"Unit 1": "u1"}}}),
	}
	f.oracle.proposal = oracle.Proposal{Subject: "Physics", Unit: "Unit 1", SuggestedName: "waves_notes.pdf"}

	localPath := filepath.Join(t.TempDir(), "file.pdf")
	err := f.engine.ProcessFile(context.Background(), "911234", "media-1", localPath)
	require.NoError(t, err)

	assert.Empty(t, f.ops.uploads)
	action, ok := f.store.GetPending("911234")
	require.True(t, ok)
	assert.Equal(t, "u1", action.TargetFolderID)
	assert.Equal(t, "waves_notes.pdf", action.SuggestedName)
	assert.Equal(t, "Physics > Unit 1", action.SubjectLabel)

	require.Len(t, f.msgr.buttons, 1)
	assert.Equal(t, ButtonSaveFile, f.msgr.buttons[0][0].ID)
	assert.Equal(t, ButtonDiscardFile, f.msgr.buttons[0][1].ID)

	// Staged file stays on disk until the user decides.
	_, statErr := os.Stat(localPath)
	assert.NoError(t, statErr)
}

func TestSaveButtonUploadsAndClears(t *testing.T) {
	f := newFixture(Options{SortConfirm: true})
	localPath := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(localPath, []byte("content"), 0o644))

	f.store.users["911234"] = &models.User{
		Phone:       "911234",
		Status:      models.StatusActive,
		GoogleToken: `{"access_token":"tok"}`,
	}
	require.NoError(t, f.store.StagePending(models.PendingAction{
		Phone:          "911234",
		LocalPath:      localPath,
		TargetFolderID: "u1",
		SuggestedName:  "waves_notes.pdf",
		SubjectLabel:   "Physics > Unit 1",
	}))

	f.engine.HandleInbound(context.Background(), buttonEnvelope("911234", ButtonSaveFile))

	assert.Equal(t, []string{"waves_notes.pdf->u1"}, f.ops.uploads)
	_, ok := f.store.GetPending("911234")
	assert.False(t, ok)
	assert.Contains(t, f.msgr.allText(), "Saved to *Physics > Unit 1*")

	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDiscardButtonRemovesFileAndClears(t *testing.T) {
	f := newFixture(Options{SortConfirm: true})
	localPath := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(localPath, []byte("content"), 0o644))

	f.store.users["911234"] = &models.User{
		Phone:       "911234",
		Status:      models.StatusActive,
		GoogleToken: `{"access_token":"tok"}`,
	}
	require.NoError(t, f.store.StagePending(models.PendingAction{
		Phone:     "911234",
		LocalPath: localPath,
	}))

	f.engine.HandleInbound(context.Background(), buttonEnvelope("911234", ButtonDiscardFile))

	assert.Empty(t, f.ops.uploads)
	_, ok := f.store.GetPending("911234")
	assert.False(t, ok)
	assert.Contains(t, f.msgr.allText(), "Discarded")

	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStaleButtonClickIgnored(t *testing.T) {
	f := newFixture(Options{})
	f.store.users["911234"] = &models.User{Phone: "911234", Status: models.StatusActive}

	f.engine.HandleInbound(context.Background(), buttonEnvelope("911234", ButtonSaveFile))

	assert.Empty(t, f.msgr.texts)
	assert.Empty(t, f.ops.uploads)
}

func TestSaveClickAfterExpiryIgnored(t *testing.T) {
	f := newFixture(Options{SortConfirm: true})
	localPath := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(localPath, []byte("content"), 0o644))

	f.store.users["911234"] = &models.User{
		Phone:       "911234",
		Status:      models.StatusActive,
		GoogleToken: `{"access_token":"tok"}`,
	}
	// Past its TTL but not swept yet: the click must not upload.
	f.store.pending["911234"] = &models.PendingAction{
		Phone:          "911234",
		LocalPath:      localPath,
		TargetFolderID: "u1",
		SuggestedName:  "waves_notes.pdf",
		ExpiresAt:      time.Now().Add(-time.Minute),
	}

	f.engine.HandleInbound(context.Background(), buttonEnvelope("911234", ButtonSaveFile))

	assert.Empty(t, f.ops.uploads)
	assert.Empty(t, f.msgr.texts)
}

func TestSweepExpiredPendingRemovesTempFiles(t *testing.T) {
	f := newFixture(Options{})
	localPath := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(localPath, []byte("content"), 0o644))

	f.store.pending["911234"] = &models.PendingAction{
		Phone:     "911234",
		LocalPath: localPath,
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	require.NoError(t, f.engine.SweepExpiredPending(context.Background()))

	_, ok := f.store.GetPending("911234")
	assert.False(t, ok)
	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))
}
