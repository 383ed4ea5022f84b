// Package model defines shared data types used across the housekeeping service.
//
// All types mirror the database schema installed by internal/store.
//
// Conventions:
//   - IDs: string UUIDs generated with github.com/google/uuid
//   - Timestamps: time.Time in UTC
//   - JSON field names match the column names so change-feed rows decode directly
package model
