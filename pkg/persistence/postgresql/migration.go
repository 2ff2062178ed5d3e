package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				definition JSONB NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_flows_project_id ON flows(project_id);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				version BIGINT NOT NULL,
				project_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INTEGER NOT NULL,
				chat_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting', 'completed', 'failed')),
				current_node_id VARCHAR(255) NOT NULL,
				wait_reason JSONB,
				variables JSONB NOT NULL DEFAULT '{}',
				step_count INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				last_error JSONB
			);

			CREATE INDEX idx_executions_conversation ON executions(flow_id, chat_id, updated_at DESC)
				WHERE status IN ('running', 'waiting');

			CREATE TABLE execution_logs (
				execution_id VARCHAR(255) NOT NULL,
				step INTEGER NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				level VARCHAR(20) NOT NULL,
				message TEXT NOT NULL,
				data JSONB,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, step)
			);

			CREATE INDEX idx_execution_logs_logged_at ON execution_logs(execution_id, logged_at);
		`,
		2: `
			CREATE TABLE timers (
				job_id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_timers_fire_at ON timers(fire_at);
		`,
	}
}
