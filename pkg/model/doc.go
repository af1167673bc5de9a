// Package model defines the core data types of the load management
// service: stations, meters, site topology, allocation results and
// violations.
//
// The types here are plain data. Mutation is owned by pkg/store; every
// other package holds read-only copies obtained from a store snapshot.
package model
