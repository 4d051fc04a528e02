// Package events documents the conventional event types of the NileLink
// platform.
//
// The bus accepts any non-empty type string. These constants name the types
// the platform's apps agree on, grouped by category:
//
//   - lifecycle: app start, stop and visibility changes
//   - hardware: printers, cash drawers, scanners, card readers
//   - product: catalogue and inventory changes
//   - transaction: order lifecycle
//   - payment: payment attempts, refunds, retries
//   - user: logins and shifts
//   - sync: offline sync and connectivity
//   - business: business and branch administration
//   - security: authentication and authorization failures
//   - system: diagnostics published by the bus itself
//
// Use Known and CategoryOf to inspect a type received from outside, such as
// from a rule file or an HTTP client.
package events
