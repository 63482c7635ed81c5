package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"chatkeeper/internal/storage"
)

// GetValueParams selects a stored blob by key.
type GetValueParams struct {
	Key string `json:"key" mcp:"the storage key (tenant id) to read"`
}

// DeleteKeyParams selects a stored blob to remove.
type DeleteKeyParams struct {
	Key string `json:"key" mcp:"the storage key (tenant id) to delete"`
}

// RestoreBackupParams picks a snapshot to restore.
type RestoreBackupParams struct {
	At string `json:"at,omitempty" mcp:"snapshot timestamp in RFC3339 format; the most recent snapshot when omitted"`
}

// StoreMCPServer exposes the conversation store to MCP clients for
// inspection and recovery.
type StoreMCPServer struct {
	blobs   *storage.ChunkedStore
	backups *storage.BackupManager
}

func textResult(format string, args ...interface{}) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

func (s *StoreMCPServer) ListKeys(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[struct{}]) (*mcp.CallToolResultFor[any], error) {
	keys, err := s.blobs.ListKeys(ctx)
	if err != nil {
		return textResult("Failed to list keys: %v", err), nil
	}
	if len(keys) == 0 {
		return textResult("The store is empty."), nil
	}
	return textResult("%d key(s):\n%s", len(keys), strings.Join(keys, "\n")), nil
}

func (s *StoreMCPServer) GetValue(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[GetValueParams]) (*mcp.CallToolResultFor[any], error) {
	value, err := s.blobs.Get(ctx, params.Arguments.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return textResult("Key %q not found.", params.Arguments.Key), nil
	}
	if err != nil {
		return textResult("Failed to read %q: %v", params.Arguments.Key, err), nil
	}
	return textResult("%s", value), nil
}

func (s *StoreMCPServer) DeleteKey(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[DeleteKeyParams]) (*mcp.CallToolResultFor[any], error) {
	n, err := s.blobs.Delete(ctx, params.Arguments.Key)
	if err != nil {
		return textResult("Failed to delete %q: %v", params.Arguments.Key, err), nil
	}
	return textResult("Deleted %d chunk(s) for %q.", n, params.Arguments.Key), nil
}

func (s *StoreMCPServer) ListBackups(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[struct{}]) (*mcp.CallToolResultFor[any], error) {
	backups, err := s.backups.ListBackups(ctx)
	if err != nil {
		return textResult("Failed to list backups: %v", err), nil
	}
	if len(backups) == 0 {
		return textResult("No backups retained."), nil
	}
	var b strings.Builder
	for _, snap := range backups {
		fmt.Fprintf(&b, "%s\t%d document(s)\texpires %s\n",
			snap.CreatedAt.Format(time.RFC3339Nano), snap.TotalDocuments, snap.ExpiresAt.Format(time.RFC3339))
	}
	return textResult("%s", b.String()), nil
}

func (s *StoreMCPServer) CreateBackup(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[struct{}]) (*mcp.CallToolResultFor[any], error) {
	if err := s.backups.CheckAndBackup(ctx); err != nil {
		return textResult("Backup failed: %v", err), nil
	}
	return textResult("Backup check completed."), nil
}

func (s *StoreMCPServer) RestoreBackup(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[RestoreBackupParams]) (*mcp.CallToolResultFor[any], error) {
	var at time.Time
	if params.Arguments.At != "" {
		parsed, err := time.Parse(time.RFC3339Nano, params.Arguments.At)
		if err != nil {
			return textResult("Invalid timestamp %q: %v", params.Arguments.At, err), nil
		}
		at = parsed
	}
	if err := s.backups.Restore(ctx, at); err != nil {
		return textResult("Restore failed: %v", err), nil
	}
	return textResult("Restore completed."), nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "data/chatkeeper.db"
	}

	conn := storage.Open(dbPath, false)
	defer conn.Shutdown()

	storeServer := &StoreMCPServer{
		blobs:   storage.NewChunkedStore(conn),
		backups: storage.NewBackupManager(conn, 0, 0),
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "chatkeeper-store-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_keys",
		Description: "Lists every key in the conversation store",
	}, storeServer.ListKeys)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_value",
		Description: "Reads the blob stored under a key, reassembling its chunks",
	}, storeServer.GetValue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_key",
		Description: "Deletes all chunks stored under a key",
	}, storeServer.DeleteKey)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_backups",
		Description: "Lists retained snapshots of the conversation store",
	}, storeServer.ListBackups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_backup",
		Description: "Takes a snapshot of the store if the latest one is stale",
	}, storeServer.CreateBackup)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restore_backup",
		Description: "Replaces the live store with a retained snapshot",
	}, storeServer.RestoreBackup)

	log.Printf("starting store MCP server on stdin/stdout")
	if err := server.Run(context.Background(), mcp.NewStdioTransport()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
