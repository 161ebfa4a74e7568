package archive

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"twmarket_backend/models"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names
const (
	MongoDBName             = "twmarket_sync"
	MongoJobRunsCollection  = "job_runs"
	MongoReportsCollection  = "integrity_reports"
)

// Archive mirrors finished job runs and integrity reports to MongoDB Atlas
// for long-term operator review. The mirror is optional and strictly
// best-effort: a missing URI disables it and delivery failures only log.
type Archive struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
}

// Global archive instance
var GlobalArchive *Archive

// InitArchive initializes the archive from MONGODB_URI.
func InitArchive() error {
	GlobalArchive = &Archive{}

	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Println("MONGODB_URI not set, archive mirror disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(mongoURI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("Failed to connect to MongoDB Atlas: %v", err)
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Failed to ping MongoDB Atlas: %v", err)
		client.Disconnect(ctx)
		return err
	}

	GlobalArchive.mu.Lock()
	GlobalArchive.client = client
	GlobalArchive.database = client.Database(MongoDBName)
	GlobalArchive.isConnected = true
	GlobalArchive.mu.Unlock()

	log.Println("Archive mirror connected to MongoDB Atlas")
	return nil
}

// IsConfigured returns whether the mirror is connected
func (a *Archive) IsConfigured() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

// PublishJobEntry implements jobguard.Publisher: finished runs are mirrored
// in the background.
func (a *Archive) PublishJobEntry(entry models.JobHistoryEntry) {
	if !a.IsConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := a.database.Collection(MongoJobRunsCollection).InsertOne(ctx, entry); err != nil {
			log.Printf("Warning: failed to archive job run %s: %v", entry.JobSignature, err)
		}
	}()
}

// ArchiveReports mirrors a batch of integrity reports.
func (a *Archive) ArchiveReports(reports []models.IntegrityReport) {
	if !a.IsConfigured() || len(reports) == 0 {
		return
	}
	docs := make([]interface{}, len(reports))
	for i := range reports {
		docs[i] = reports[i]
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := a.database.Collection(MongoReportsCollection).InsertMany(ctx, docs); err != nil {
			log.Printf("Warning: failed to archive integrity reports: %v", err)
		}
	}()
}

// Close disconnects the mirror during shutdown.
func (a *Archive) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.client.Disconnect(ctx)
	a.isConnected = false
}
