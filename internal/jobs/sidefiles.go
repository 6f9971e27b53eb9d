package jobs

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rawblock/flywheel-engine/pkg/models"
)

// writeRoundArtifacts publishes transparency side-files under the public
// directory: the latest attempt per type plus an append-only history log.
// These are best-effort mirrors of the store, never authoritative.
func writeRoundArtifacts(publicDir string, round *models.Round) {
	if publicDir == "" {
		return
	}
	if err := os.MkdirAll(publicDir, 0o755); err != nil {
		log.Printf("[Jobs] Failed to create public dir: %v", err)
		return
	}

	snapshot := map[string]interface{}{
		"round":      round,
		"recordedAt": time.Now().Unix(),
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.Printf("[Jobs] Failed to marshal round snapshot: %v", err)
		return
	}

	name := "last_buy.json"
	if round.Type == models.RoundTypeReward {
		name = "last_reward.json"
	}
	if err := os.WriteFile(filepath.Join(publicDir, name), payload, 0o644); err != nil {
		log.Printf("[Jobs] Failed to write %s: %v", name, err)
	}

	line, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(publicDir, "history.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[Jobs] Failed to open history.jsonl: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("[Jobs] Failed to append history.jsonl: %v", err)
	}
}
