// Copyright 2025 SQL Studio Contributors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the SQL Studio backend service.
//
// The backend is the query execution gateway that:
// - Manages pooled database connections per saved connection
// - Validates and executes SQL against PostgreSQL and MySQL
// - Supports query cancellation and execution timeouts
// - Handles authentication and rate limiting
//
// Usage:
//
//	./server
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 3001)
//	MAX_QUERY_TIMEOUT - default query timeout in ms (default: 30000)
//	MAX_RESULT_ROWS - default result row cap (default: 10000)
//	CORS_ORIGINS - comma-separated allowed origins
//	REDIS_URL - Redis URL for distributed rate limiting (optional)
//	JWT_SECRET - secret for JWT token validation (optional)
package main

import (
	"log"

	"sqlstudio/backend/config"
	"sqlstudio/backend/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv := server.BuildFromConfig(cfg)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
