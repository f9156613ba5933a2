package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/oracle"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// dashboardDataHandler returns everything the dashboard renders.
func dashboardDataHandler(store UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := sessionPhone(c)
		if phone == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
			return
		}

		user, found := store.Get(phone)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		syllabus, _ := user.Syllabus()
		folders, _ := user.Folders()

		c.JSON(http.StatusOK, gin.H{
			"phone":          phone,
			"name":           user.Name,
			"picture":        user.Picture,
			"status":         user.Status,
			"syllabus":       syllabus,
			"folder_map":     folders,
			"root_folder_id": user.RootFolderID,
		})
	}
}

type completeSetupRequest struct {
	Phone    string   `json:"phone" binding:"required"`
	Subjects []string `json:"subjects" binding:"required"`
}

// setupLockTTL bounds the per-phone lease held while the wizard provisions;
// it matches how long a Drive tree creation can reasonably run.
const setupLockTTL = 5 * time.Minute

// completeSetupHandler provisions the subjects picked in the setup wizard.
// With a root folder already on record it appends only the new subjects;
// otherwise it builds the whole tree, injects the default utility folders,
// and activates the user. The whole read-provision-write runs under the same
// per-phone lease the background workers take, so a double submit or a
// racing folders:provision task cannot create a second root tree or clobber
// the folder-map merge.
func completeSetupHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req completeSetupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "phone and subjects are required"})
			return
		}

		err := d.Locks.WithLease(c.Request.Context(), "phone:"+req.Phone, setupLockTTL, func(ctx context.Context) error {
			completeSetup(ctx, d, c, req)
			return nil
		})
		if err != nil {
			d.Logger.Error("failed to acquire setup lock", "phone", req.Phone, "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "Setup is already running, try again."})
		}
	}
}

func completeSetup(ctx context.Context, d Deps, c *gin.Context, req completeSetupRequest) {
	user, found := d.Store.Get(req.Phone)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	session, err := d.Sessions.Resolve(ctx, user.GoogleToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Google Drive not linked"})
		return
	}

	draft, _ := user.Syllabus()
	structure := models.Syllabus{}
	for _, subject := range req.Subjects {
		units := draft[subject]
		if len(units) == 0 {
			units = []string{"Unit 1", "Unit 2", "Unit 3", "Unit 4", "Unit 5"}
		}
		structure[subject] = units
	}

	existing, _ := user.Folders()

	if user.RootFolderID != "" {
		// Append mode: only subjects the stored map doesn't have yet.
		created, err := d.Provisioner.Append(ctx, session, user.RootFolderID, existing, structure)
		if err != nil {
			d.Logger.Error("append provisioning failed", "phone", req.Phone, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
			return
		}
		if len(created) == 0 {
			c.JSON(http.StatusOK, gin.H{"status": "success", "message": "No new folders to create."})
			return
		}

		for subject, folders := range created {
			existing[subject] = folders
		}
		if err := d.Store.SetFolderMap(req.Phone, existing); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "New subjects added successfully"})
		return
	}

	// First run: everyone gets the utility folders on top of their picks.
	for _, def := range oracle.SetupSubjects() {
		if _, ok := structure[def.Name]; !ok {
			structure[def.Name] = def.Units
		}
	}

	rootID, folderMap, err := d.Provisioner.All(ctx, session, req.Phone, structure)
	if err != nil {
		d.Logger.Error("initial provisioning failed", "phone", req.Phone, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if err := d.Store.SetFolderMap(req.Phone, folderMap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := d.Store.SetRootFolder(req.Phone, rootID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := d.Store.SetStatus(req.Phone, models.StatusActive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	// Two chat messages: confirmation, then the usage guide.
	_ = d.Messenger.SendText(ctx, req.Phone, "✅ *Setup Complete!*\nYour dashboard and folders are ready.")
	_ = d.Messenger.SendText(ctx, req.Phone,
		"🚀 *How to use me:*\n\n"+
			"1️⃣ *Save Files:* Send any image or PDF here. I will analyze it and auto-sort it into the correct Subject folder.\n\n"+
			"2️⃣ *Find Files:* Just ask things like _'Get Physics notes'_ or _'Find Unit 1 papers'_ and I'll fetch them instantly!")

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Workspace created successfully"})
}

// uploadSyllabusHandler takes a syllabus upload from the wizard, extracts
// subjects, and moves the user into list editing.
func uploadSyllabusHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := sessionPhone(c)
		if phone == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
			return
		}

		upload, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}

		ext := strings.ToLower(filepath.Ext(upload.Filename))
		if ext == "" {
			ext = ".pdf"
		}
		localPath := filepath.Join(os.TempDir(), fmt.Sprintf("syllabus_%s_%s%s", phone, uuid.New().String(), ext))
		if err := c.SaveUploadedFile(upload, localPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}
		defer os.Remove(localPath)

		subjects := d.Extractor.ExtractSyllabus(c.Request.Context(), localPath)
		if len(subjects) == 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not read that file. Try a clearer PDF."})
			return
		}

		if err := d.Store.SetSyllabusDraft(phone, subjects); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save subjects"})
			return
		}
		if err := d.Store.SetStatus(phone, models.StatusEditingList); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"subjects": subjects})
	}
}

// driveBrowseHandler lists one folder of the user's Drive tree for the
// dashboard file browser.
func driveBrowseHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := sessionPhone(c)
		if phone == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
			return
		}

		user, found := d.Store.Get(phone)
		if !found || user.GoogleToken == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Auth required"})
			return
		}

		session, err := d.Sessions.Resolve(c.Request.Context(), user.GoogleToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Auth required"})
			return
		}

		targetID := c.Query("folder_id")
		if targetID == "" {
			targetID = user.RootFolderID
		}
		if targetID == "" {
			c.JSON(http.StatusOK, gin.H{"folders": []drive.File{}, "files": []drive.File{}})
			return
		}

		items, err := session.List(c.Request.Context(), targetID, "")
		if err != nil {
			d.Logger.Error("drive browse failed", "phone", phone, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		folders := []drive.File{}
		files := []drive.File{}
		for _, item := range items {
			if strings.Contains(item.MimeType, "folder") {
				folders = append(folders, item)
			} else {
				files = append(files, item)
			}
		}
		c.JSON(http.StatusOK, gin.H{"folders": folders, "files": files})
	}
}
