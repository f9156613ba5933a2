package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/router"
	"github.com/docorganizer/docorganizer/internal/whatsapp"
)

// Background entry points. These run on the worker, so they may block on
// oracle and Drive calls. User-visible failures are converted to chat
// messages before returning; the returned error exists for logging, not for
// retries, since duplicate folder trees and repeated apology messages are
// worse than a lost message.

// ProcessSyllabus downloads a syllabus document, extracts subjects, and moves
// the user into list editing.
func (e *Engine) ProcessSyllabus(ctx context.Context, phone, mediaID, localPath string) error {
	if err := e.msgr.DownloadMedia(ctx, mediaID, localPath); err != nil {
		e.send(ctx, phone, "❌ Download failed.")
		return fmt.Errorf("failed to download syllabus media: %w", err)
	}
	defer os.Remove(localPath)

	subjects := e.oracle.ExtractSyllabus(ctx, localPath)
	if len(subjects) == 0 {
		e.send(ctx, phone, "❌ I couldn't read that file. Try a clearer PDF.")
		return nil
	}

	if err := e.users.SetSyllabusDraft(phone, subjects); err != nil {
		return fmt.Errorf("failed to store syllabus draft: %w", err)
	}
	if err := e.users.SetStatus(phone, models.StatusEditingList); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	names := make([]string, 0, len(subjects))
	for subject := range subjects {
		names = append(names, subject)
	}
	sort.Strings(names)

	body := "✅ *Analysis Complete!*\nI found these subjects:\n\n"
	for _, subject := range names {
		body += fmt.Sprintf("📂 *%s* (%d units)\n", subject, len(subjects[subject]))
	}
	body += "\n👇 *What next?*\n- Reply *'Add [Subject]'*\n- Reply *'Remove [Subject]'*\n- Click Confirm below."

	if err := e.msgr.SendButtons(ctx, phone, body, []whatsapp.Button{
		{ID: ButtonSetupConfirm, Title: "✅ Confirm"},
	}); err != nil {
		return fmt.Errorf("failed to send subject list: %w", err)
	}
	return nil
}

// ProvisionFolders materializes the confirmed draft as a Drive tree and
// activates the user. The draft is read fresh here, not captured at enqueue
// time, so edits racing the confirm win.
func (e *Engine) ProvisionFolders(ctx context.Context, phone string) error {
	user, found := e.users.Get(phone)
	if !found {
		return nil
	}

	draft := e.draftOf(user)
	if len(draft) == 0 {
		e.send(ctx, phone, "❌ Error: Session expired. Upload syllabus again.")
		return nil
	}

	e.send(ctx, phone, "🚀 Creating folders in Google Drive... (Wait ~20s)")

	session, err := e.sessions.Resolve(ctx, user.GoogleToken)
	if err != nil {
		e.sendRelinkPrompt(ctx, phone, err)
		return nil
	}

	rootID, folderMap, err := e.prov.All(ctx, session, phone, draft)
	if err != nil {
		e.send(ctx, phone, "❌ Creating folders failed.")
		return fmt.Errorf("failed to provision folders: %w", err)
	}

	if err := e.users.SetFolderMap(phone, folderMap); err != nil {
		return fmt.Errorf("failed to store folder map: %w", err)
	}
	if err := e.users.SetRootFolder(phone, rootID); err != nil {
		return fmt.Errorf("failed to store root folder: %w", err)
	}
	if err := e.users.SetStatus(phone, models.StatusActive); err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}

	e.send(ctx, phone, "✅ *Setup Complete!*\n\nI created 'Smart Docs' in your Drive.\n👉 Send me a PDF notes file now!")
	return nil
}

// ProcessFile downloads an incoming file, classifies it, routes it, and
// either auto-saves it or stages it behind Save/Discard buttons. Only ACTIVE
// users sort; the status is re-checked here because the task may outlive a
// status change.
func (e *Engine) ProcessFile(ctx context.Context, phone, mediaID, localPath string) error {
	if err := e.msgr.DownloadMedia(ctx, mediaID, localPath); err != nil {
		e.send(ctx, phone, "❌ Failed to download file from WhatsApp.")
		return fmt.Errorf("failed to download media: %w", err)
	}

	user, found := e.users.Get(phone)
	if !found || user.Status != models.StatusActive {
		os.Remove(localPath)
		return nil
	}

	folders, err := user.Folders()
	if err != nil {
		e.logger.Warn("unreadable folder map", "phone", phone, "error", err.Error())
	}
	if len(folders) == 0 {
		os.Remove(localPath)
		e.send(ctx, phone, "⚠️ No folders set up. Please go to the dashboard.")
		return nil
	}

	proposal := e.oracle.ClassifyFile(ctx, localPath, folders.Names())
	name := proposal.SuggestedName
	if name == "" {
		name = filepath.Base(localPath)
	}

	dest, err := router.Route(folders, user.RootFolderID, proposal)
	if err != nil {
		os.Remove(localPath)
		e.send(ctx, phone, "❌ Error: Could not determine where to save this file.")
		return nil
	}

	if e.opts.SortConfirm {
		if err := e.users.StagePending(models.PendingAction{
			Phone:          phone,
			LocalPath:      localPath,
			TargetFolderID: dest.FolderID,
			SuggestedName:  name,
			SubjectLabel:   dest.Label,
		}); err != nil {
			os.Remove(localPath)
			return fmt.Errorf("failed to stage pending action: %w", err)
		}

		prompt := fmt.Sprintf("🧐 *Analysis:*\n📂 %s\n📄 _%s_", dest.Label, name)
		if err := e.msgr.SendButtons(ctx, phone, prompt, []whatsapp.Button{
			{ID: ButtonSaveFile, Title: "✅ Save"},
			{ID: ButtonDiscardFile, Title: "❌ Discard"},
		}); err != nil {
			return fmt.Errorf("failed to send confirm prompt: %w", err)
		}
		return nil
	}

	session, err := e.sessions.Resolve(ctx, user.GoogleToken)
	if err != nil {
		os.Remove(localPath)
		e.sendRelinkPrompt(ctx, phone, err)
		return nil
	}

	if err := router.Deliver(ctx, session, localPath, name, dest); err != nil {
		e.send(ctx, phone, "❌ Failed to save file.")
		return fmt.Errorf("failed to deliver file: %w", err)
	}

	e.send(ctx, phone, fmt.Sprintf("✅ *Auto-Saved!*\n📂 *%s*\n📄 _%s_", dest.Label, name))
	return nil
}

// SweepExpiredPending removes staged actions past their TTL along with their
// orphaned temp files. Runs on the periodic scheduler.
func (e *Engine) SweepExpiredPending(ctx context.Context) error {
	expired, err := e.users.TakeExpiredPending(time.Now())
	if err != nil {
		return fmt.Errorf("failed to take expired pending actions: %w", err)
	}

	for _, action := range expired {
		if action.LocalPath != "" {
			os.Remove(action.LocalPath)
		}
		e.logger.Info("expired pending action", "phone", action.Phone, "file", action.SuggestedName)
	}
	return nil
}
