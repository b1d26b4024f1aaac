package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Immutable graph definitions. Nodes and edges live in the
			-- definition document; graphs are never updated in place.
			CREATE TABLE graphs (
				id UUID PRIMARY KEY,
				template_id VARCHAR(255),
				version INT NOT NULL DEFAULT 1,
				name VARCHAR(255) NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_graphs_template_id ON graphs(template_id);

			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				graph_id UUID NOT NULL REFERENCES graphs(id),
				graph_version INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'paused', 'completed', 'failed', 'cancelled')),
				active_nodes JSONB NOT NULL DEFAULT '[]',
				join_arrivals JSONB NOT NULL DEFAULT '{}',
				context JSONB NOT NULL DEFAULT '{}',
				started_by VARCHAR(255),
				failure_reason TEXT,
				request_id VARCHAR(255),
				group_id VARCHAR(255),
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_request_id ON runs(request_id);
			CREATE INDEX idx_runs_group_id ON runs(group_id);
			CREATE INDEX idx_runs_status ON runs(status);

			-- Append-only execution log, sequenced per run.
			CREATE TABLE run_logs (
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				sequence BIGINT NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				node_id VARCHAR(255),
				action VARCHAR(100) NOT NULL,
				details JSONB,
				PRIMARY KEY (run_id, sequence)
			);

			CREATE TABLE validations (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				approver_type VARCHAR(50) NOT NULL,
				approver_id VARCHAR(255),
				department_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
				due_at TIMESTAMP WITH TIME ZONE,
				reminder_at TIMESTAMP WITH TIME ZONE,
				on_timeout_action VARCHAR(50),
				decided_by VARCHAR(255),
				decided_at TIMESTAMP WITH TIME ZONE,
				decision_comment TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_validations_run_id ON validations(run_id);
			CREATE INDEX idx_validations_approver ON validations(approver_id, status);
			CREATE INDEX idx_validations_reminder ON validations(status, reminder_at);

			CREATE TABLE events (
				id UUID PRIMARY KEY,
				type VARCHAR(100) NOT NULL,
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				payload JSONB,
				processed BOOLEAN NOT NULL DEFAULT FALSE,
				processed_at TIMESTAMP WITH TIME ZONE,
				attempts INT NOT NULL DEFAULT 0,
				last_attempt TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_events_pending ON events(processed, attempts, created_at);
			CREATE INDEX idx_events_entity ON events(entity_type, entity_id);

			CREATE TABLE notifications (
				id UUID PRIMARY KEY,
				event_id UUID,
				recipient VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				subject TEXT,
				body TEXT,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_notifications_event_id ON notifications(event_id);
			CREATE INDEX idx_notifications_recipient ON notifications(recipient, status);

			CREATE TABLE notification_preferences (
				user_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(100) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				PRIMARY KEY (user_id, event_type, channel)
			);

			CREATE TABLE requests (
				id UUID PRIMARY KEY,
				requester_id VARCHAR(255) NOT NULL,
				department_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'approved', 'in_execution', 'done')),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE tasks (
				id UUID PRIMARY KEY,
				request_id UUID NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
				group_id VARCHAR(255),
				template_id VARCHAR(255),
				assignee_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_progress', 'done', 'validated')),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tasks_group_id ON tasks(group_id);
			CREATE INDEX idx_tasks_request_id ON tasks(request_id);
		`,
	}
}
