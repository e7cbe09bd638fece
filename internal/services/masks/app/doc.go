// Package server hosts the popup page: it answers broker flows from opener
// sites by driving the mask service.
package server
