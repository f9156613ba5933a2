// Package bot is the per-user onboarding/sorting state machine. It consumes
// inbound webhook messages plus the user's current status and decides the
// state transition, the side effect, and the outbound reply. Failures are
// absorbed into chat messages; nothing here propagates to the webhook
// boundary.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/oracle"
	"github.com/docorganizer/docorganizer/internal/provision"
	"github.com/docorganizer/docorganizer/internal/router"
	"github.com/docorganizer/docorganizer/internal/whatsapp"
	"github.com/google/uuid"
)

// Button ids the bot hands out and later receives back.
const (
	ButtonSetupConfirm = "setup_confirm"
	ButtonSaveFile     = "save_file"
	ButtonDiscardFile  = "discard_file"
)

// UserStore is the slice of the record store the engine needs.
type UserStore interface {
	Get(phone string) (*models.User, bool)
	SetStatus(phone, status string) error
	SetSyllabusDraft(phone string, draft models.Syllabus) error
	SetFolderMap(phone string, folders models.FolderMap) error
	SetRootFolder(phone, folderID string) error
	StagePending(action models.PendingAction) error
	GetPending(phone string) (*models.PendingAction, bool)
	ClearPending(phone string) error
	TakeExpiredPending(now time.Time) ([]models.PendingAction, error)
}

// Messenger sends chat messages and fetches inbound media.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) error
	DownloadMedia(ctx context.Context, mediaID, destPath string) error
}

// Oracle is the AI adapter: extraction, classification, intent. All three
// fail closed, so the engine never sees an error from them.
type Oracle interface {
	ExtractSyllabus(ctx context.Context, filePath string) models.Syllabus
	ClassifyFile(ctx context.Context, filePath string, folderNames map[string][]string) oracle.Proposal
	ClassifyIntent(ctx context.Context, text string, folderNames map[string][]string) oracle.Intent
}

// SessionResolver turns a stored credential blob into a live Drive session.
type SessionResolver interface {
	Resolve(ctx context.Context, storedToken string) (drive.Ops, error)
}

// ResolverFunc adapts a closure to SessionResolver.
type ResolverFunc func(ctx context.Context, storedToken string) (drive.Ops, error)

func (f ResolverFunc) Resolve(ctx context.Context, storedToken string) (drive.Ops, error) {
	return f(ctx, storedToken)
}

// Enqueuer hands slow work (downloads, oracle calls, Drive writes) to the
// background queue so the webhook can acknowledge immediately.
type Enqueuer interface {
	ParseSyllabus(phone, mediaID, localPath string) error
	ProvisionFolders(phone string) error
	SortFile(phone, mediaID, localPath string) error
}

// Options is the engine's runtime behavior knobs.
type Options struct {
	FrontendURL string
	// SortConfirm stages classified uploads behind Save/Discard buttons
	// instead of auto-saving.
	SortConfirm bool
}

// Engine is the state machine.
type Engine struct {
	users    UserStore
	msgr     Messenger
	oracle   Oracle
	sessions SessionResolver
	prov     *provision.Provisioner
	queue    Enqueuer
	opts     Options
	logger   *slog.Logger
}

func New(users UserStore, msgr Messenger, ora Oracle, sessions SessionResolver, prov *provision.Provisioner, queue Enqueuer, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		users:    users,
		msgr:     msgr,
		oracle:   ora,
		sessions: sessions,
		prov:     prov,
		queue:    queue,
		opts:     opts,
		logger:   logger,
	}
}

// HandleInbound dispatches one webhook delivery. Status-only deliveries and
// structurally unexpected messages are ignored; every other branch ends in an
// outbound reply. Never returns an error: the webhook must acknowledge
// regardless.
func (e *Engine) HandleInbound(ctx context.Context, env *whatsapp.Envelope) {
	msg := env.FirstMessage()
	if msg == nil {
		return
	}
	sender := msg.From
	if sender == "" {
		return
	}

	user, found := e.users.Get(sender)
	status := models.StatusNew
	if found {
		status = user.Status
	}

	// VERIFY works from any state: it re-derives status from what the record
	// actually holds.
	if msg.Type == whatsapp.TypeText && strings.EqualFold(strings.TrimSpace(msg.Body()), "VERIFY") {
		e.handleVerify(ctx, sender, user)
		return
	}

	switch status {
	case models.StatusNew, models.StatusAwaitingLogin:
		e.sendOnboardingLink(ctx, sender)
	case models.StatusConnected:
		e.sendSetupNudge(ctx, sender)
	case models.StatusAwaitingSyllabus:
		e.handleAwaitingSyllabus(ctx, sender, msg)
	case models.StatusEditingList:
		e.handleEditingList(ctx, sender, user, msg)
	case models.StatusActive:
		e.handleActive(ctx, sender, user, msg)
	default:
		e.logger.Warn("message from user in unknown status", "phone", sender, "status", status)
	}
}

// handleVerify settles a user's status from what their record proves: linked
// with folders means ACTIVE, linked without means CONNECTED, otherwise the
// link never happened.
func (e *Engine) handleVerify(ctx context.Context, sender string, user *models.User) {
	if user == nil || user.GoogleToken == "" {
		e.send(ctx, sender, "⚠️ *Verification Failed* \nLogin on the website first, then type VERIFY here.")
		return
	}

	if user.RootFolderID != "" {
		if err := e.users.SetStatus(sender, models.StatusActive); err != nil {
			e.logger.Error("failed to activate user", "phone", sender, "error", err.Error())
		}
		e.send(ctx, sender, "✅ *You are ready!* Send me a file to organize.")
		return
	}

	if err := e.users.SetStatus(sender, models.StatusConnected); err != nil {
		e.logger.Error("failed to mark user connected", "phone", sender, "error", err.Error())
	}
	e.send(ctx, sender, "✅ *Linked Successfully!*\n\nProceed to your dashboard to setup your folders. 📂")
}

func (e *Engine) sendOnboardingLink(ctx context.Context, sender string) {
	link := fmt.Sprintf("%s/?phone=%s", e.opts.FrontendURL, sender)
	e.send(ctx, sender,
		"👋 *Welcome to DocOrganizer!* \n\n"+
			"Tap below to connect Google Drive & Setup Folders:\n"+link)
	if err := e.users.SetStatus(sender, models.StatusAwaitingLogin); err != nil {
		e.logger.Error("failed to set status", "phone", sender, "error", err.Error())
	}
}

func (e *Engine) sendSetupNudge(ctx context.Context, sender string) {
	e.send(ctx, sender,
		"⏳ *Setup Incomplete* \n\n"+
			"Please finish setting up your subjects on the dashboard:\n"+
			"👉 "+e.opts.FrontendURL+"/setup")
}

func (e *Engine) handleAwaitingSyllabus(ctx context.Context, sender string, msg *whatsapp.Message) {
	media := msg.MediaRef()
	if media == nil {
		e.send(ctx, sender, "⚠️ Please send a PDF/Image of your syllabus.")
		return
	}

	localPath := tempPath("syllabus", sender, extensionFor(msg))
	e.send(ctx, sender, "🧐 Reading your syllabus... (This takes ~10s)")
	if err := e.queue.ParseSyllabus(sender, media.ID, localPath); err != nil {
		e.logger.Error("failed to enqueue syllabus parse", "phone", sender, "error", err.Error())
		e.send(ctx, sender, "❌ Something went wrong. Please resend your syllabus.")
	}
}

func (e *Engine) handleEditingList(ctx context.Context, sender string, user *models.User, msg *whatsapp.Message) {
	if msg.ButtonID() == ButtonSetupConfirm {
		e.confirmSetup(ctx, sender)
		return
	}
	if msg.Type != whatsapp.TypeText {
		return
	}

	text := strings.TrimSpace(msg.Body())
	lower := strings.ToLower(text)

	switch {
	case lower == "confirm":
		e.confirmSetup(ctx, sender)

	case strings.HasPrefix(lower, "add "):
		subject := strings.TrimSpace(text[len("add "):])
		if subject == "" {
			return
		}
		draft := e.draftOf(user)
		draft[subject] = defaultUnits()
		if err := e.users.SetSyllabusDraft(sender, draft); err != nil {
			e.logger.Error("failed to update syllabus draft", "phone", sender, "error", err.Error())
			return
		}
		e.send(ctx, sender, fmt.Sprintf("✅ Added %s. Reply 'Confirm' when done.", subject))

	case strings.HasPrefix(lower, "remove "):
		needle := strings.ToLower(strings.TrimSpace(text[len("remove "):]))
		draft := e.draftOf(user)
		match := firstMatchingSubject(draft, needle)
		if match == "" {
			e.send(ctx, sender, "⚠️ Subject not found.")
			return
		}
		delete(draft, match)
		if err := e.users.SetSyllabusDraft(sender, draft); err != nil {
			e.logger.Error("failed to update syllabus draft", "phone", sender, "error", err.Error())
			return
		}
		e.send(ctx, sender, fmt.Sprintf("🗑️ Removed %s.", match))
	}
}

func (e *Engine) confirmSetup(ctx context.Context, sender string) {
	if err := e.queue.ProvisionFolders(sender); err != nil {
		e.logger.Error("failed to enqueue folder provisioning", "phone", sender, "error", err.Error())
		e.send(ctx, sender, "❌ Something went wrong. Reply 'Confirm' to try again.")
	}
}

func (e *Engine) handleActive(ctx context.Context, sender string, user *models.User, msg *whatsapp.Message) {
	switch msg.Type {
	case whatsapp.TypeText:
		e.handleSearch(ctx, sender, user, msg.Body())

	case whatsapp.TypeDocument, whatsapp.TypeImage:
		media := msg.MediaRef()
		if media == nil {
			return
		}
		localPath := tempPath("file", sender, extensionFor(msg))
		e.send(ctx, sender, "🤖 Analyzing document...")
		if err := e.queue.SortFile(sender, media.ID, localPath); err != nil {
			e.logger.Error("failed to enqueue sort", "phone", sender, "error", err.Error())
			e.send(ctx, sender, "❌ Something went wrong. Please resend the file.")
		}

	case whatsapp.TypeInteractive:
		e.ResolvePending(ctx, sender, user, msg.ButtonID())
	}
}

// handleSearch runs intent classification and, for searches, a scoped Drive
// lookup. Non-search chat gets the usage hint.
func (e *Engine) handleSearch(ctx context.Context, sender string, user *models.User, text string) {
	folders, err := user.Folders()
	if err != nil {
		e.logger.Warn("unreadable folder map", "phone", sender, "error", err.Error())
	}

	intent := e.oracle.ClassifyIntent(ctx, text, folders.Names())
	if !intent.IsSearch {
		e.send(ctx, sender, "📤 Send me a file to save, or ask 'Find Adhar Card'.")
		return
	}

	e.send(ctx, sender, fmt.Sprintf("🔍 Searching for '%s'...", text))

	// Scope to the matched subject's folder when the intent names one the
	// user actually has; otherwise search from the root.
	parentID := user.RootFolderID
	if intent.Subject != "" {
		if entry, ok := folders[intent.Subject]; ok && entry.ID != "" {
			parentID = entry.ID
		}
	}
	if parentID == "" {
		e.send(ctx, sender, "❌ No files found.")
		return
	}

	session, err := e.sessions.Resolve(ctx, user.GoogleToken)
	if err != nil {
		e.sendRelinkPrompt(ctx, sender, err)
		return
	}

	files, err := session.List(ctx, parentID, intent.Keyword)
	if err != nil {
		e.logger.Error("drive search failed", "phone", sender, "error", err.Error())
		e.send(ctx, sender, "❌ Search failed. Please try again.")
		return
	}
	if len(files) == 0 {
		e.send(ctx, sender, "❌ No files found.")
		return
	}

	reply := fmt.Sprintf("📂 *Found %d files:*\n\n", len(files))
	for _, f := range files {
		reply += fmt.Sprintf("%s *%s*\n🔗 %s\n\n", searchIcon(f.MimeType), f.Name, f.WebViewLink)
	}
	e.send(ctx, sender, reply)
}

// ResolvePending settles a staged upload on a Save/Discard click. A click
// with nothing staged (stale buttons, expired action) is ignored.
func (e *Engine) ResolvePending(ctx context.Context, sender string, user *models.User, buttonID string) {
	action, ok := e.users.GetPending(sender)
	if !ok {
		return
	}

	switch buttonID {
	case ButtonSaveFile:
		e.send(ctx, sender, "🚀 Uploading to Drive...")

		session, err := e.sessions.Resolve(ctx, user.GoogleToken)
		if err != nil {
			os.Remove(action.LocalPath)
			e.clearPending(sender)
			e.sendRelinkPrompt(ctx, sender, err)
			return
		}

		dest := router.Destination{FolderID: action.TargetFolderID, Label: action.SubjectLabel}
		if err := router.Deliver(ctx, session, action.LocalPath, action.SuggestedName, dest); err != nil {
			e.logger.Error("staged upload failed", "phone", sender, "error", err.Error())
			e.send(ctx, sender, "❌ Upload failed.")
		} else {
			e.send(ctx, sender, fmt.Sprintf("✅ Saved to *%s*", action.SubjectLabel))
		}
		e.clearPending(sender)

	case ButtonDiscardFile:
		os.Remove(action.LocalPath)
		e.clearPending(sender)
		e.send(ctx, sender, "🚫 Discarded.")
	}
}

func (e *Engine) clearPending(sender string) {
	if err := e.users.ClearPending(sender); err != nil {
		e.logger.Error("failed to clear pending action", "phone", sender, "error", err.Error())
	}
}

// sendRelinkPrompt turns a credential failure into the "login again" nudge.
func (e *Engine) sendRelinkPrompt(ctx context.Context, sender string, err error) {
	e.logger.Warn("drive session unavailable", "phone", sender, "error", err.Error())
	e.send(ctx, sender, "⚠️ Your Google Drive link isn't working. Login on the website again, then type VERIFY here.")
}

func (e *Engine) send(ctx context.Context, to, body string) {
	if err := e.msgr.SendText(ctx, to, body); err != nil {
		e.logger.Error("failed to send message", "phone", to, "error", err.Error())
	}
}

// draftOf reads the user's syllabus draft, degrading unreadable drafts to
// empty so editing can restart rather than wedge.
func (e *Engine) draftOf(user *models.User) models.Syllabus {
	if user == nil {
		return models.Syllabus{}
	}
	draft, err := user.Syllabus()
	if err != nil {
		e.logger.Warn("unreadable syllabus draft", "phone", user.Phone, "error", err.Error())
		return models.Syllabus{}
	}
	return draft
}

// defaultUnits is the skeleton attached to a manually added subject.
func defaultUnits() []string {
	return []string{"Unit 1", "Unit 2", "Unit 3", "Unit 4", "Unit 5"}
}

// firstMatchingSubject finds the first draft key containing the needle,
// case-insensitively. Keys are scanned in sorted order so the result is
// deterministic.
func firstMatchingSubject(draft models.Syllabus, needle string) string {
	keys := make([]string, 0, len(draft))
	for k := range draft {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.Contains(strings.ToLower(k), needle) {
			return k
		}
	}
	return ""
}

// tempPath builds a unique scratch path for one in-flight download. Two
// concurrent uploads from the same phone must never share a file.
func tempPath(kind, phone, ext string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s_%s_%s%s", kind, phone, uuid.New().String(), ext))
}

// extensionFor picks a scratch-file extension from the message's declared
// mime type.
func extensionFor(msg *whatsapp.Message) string {
	if msg.Type == whatsapp.TypeImage {
		return ".jpg"
	}
	if msg.Document != nil {
		switch {
		case strings.Contains(msg.Document.MimeType, "word"):
			return ".docx"
		case strings.Contains(msg.Document.MimeType, "image"):
			return ".jpg"
		}
	}
	return ".pdf"
}

func searchIcon(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "image"):
		return "🖼️"
	case strings.Contains(mimeType, "pdf"):
		return "📕"
	case strings.Contains(mimeType, "folder"):
		return "📁"
	default:
		return "📄"
	}
}
