package repository

import (
	"context"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/db"
)

// EnsureSchema creates the promotion workflow tables when missing. Every
// service calls this at startup; the statements are idempotent.
func EnsureSchema(ctx context.Context, db *db.DB) error {
	const q = `
CREATE TABLE IF NOT EXISTS build_run (
  run_id uuid PRIMARY KEY,
  pipeline_name text NOT NULL,
  agent_name text NOT NULL,
  trigger_kind text NOT NULL,
  status text NOT NULL,
  current_stage text NOT NULL DEFAULT '',
  stage_log jsonb NOT NULL DEFAULT '[]',
  failed_stage text NOT NULL DEFAULT '',
  failure_kind text NOT NULL DEFAULT '',
  cancel_requested boolean NOT NULL DEFAULT FALSE,
  submitted_by text,
  started_at timestamptz NOT NULL,
  ended_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_build_run_started_at ON build_run (started_at DESC);

CREATE TABLE IF NOT EXISTS evaluation_result (
  run_id uuid PRIMARY KEY REFERENCES build_run (run_id),
  total_cases integer NOT NULL,
  passed_cases integer NOT NULL,
  success_rate double precision NOT NULL,
  threshold double precision NOT NULL,
  verdict text NOT NULL,
  details jsonb NOT NULL DEFAULT '[]',
  recorded_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_record (
  artifact_id uuid PRIMARY KEY,
  run_id uuid NOT NULL REFERENCES build_run (run_id),
  agent_name text NOT NULL,
  agent_version text NOT NULL,
  approval_state text NOT NULL,
  metadata jsonb NOT NULL DEFAULT '{}',
  created_at timestamptz NOT NULL,
  approved_by text,
  approved_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_artifact_record_state ON artifact_record (approval_state, created_at DESC);

CREATE TABLE IF NOT EXISTS promotion_run (
  promotion_id uuid PRIMARY KEY,
  artifact_id uuid NOT NULL REFERENCES artifact_record (artifact_id),
  release_name text NOT NULL,
  rollback_target uuid,
  status text NOT NULL,
  stage_log jsonb NOT NULL DEFAULT '[]',
  failed_stage text NOT NULL DEFAULT '',
  failure_kind text NOT NULL DEFAULT '',
  started_at timestamptz NOT NULL,
  ended_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_promotion_run_artifact ON promotion_run (artifact_id, started_at DESC);

CREATE TABLE IF NOT EXISTS release (
  name text PRIMARY KEY,
  artifact_id uuid NOT NULL REFERENCES artifact_record (artifact_id),
  version bigint NOT NULL DEFAULT 1,
  moved_by text,
  moved_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS release_move (
  id bigserial PRIMARY KEY,
  name text NOT NULL,
  from_artifact_id uuid,
  to_artifact_id uuid NOT NULL,
  moved_by text,
  moved_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_release_move_name ON release_move (name, moved_at DESC);
`

	if _, err := db.Exec(ctx, q); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	return nil
}
