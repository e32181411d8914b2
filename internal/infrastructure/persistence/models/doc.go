// Package models contains GORM persistence models for the ETL control tables.
// Domain types stay free of GORM tags; each model converts with ToDomain and
// FromDomain. Staging tables have no models: they are written as column maps
// by the staging loader.
package models
