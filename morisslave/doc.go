// Package morisslave implements a Discord bot for organizing study
// communities around "subjects": forum channels paired with volunteer
// helper roles, grouped under a single category.
//
// Key components of the package include:
//
//   - MorisSlave: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles the Discord gateway connection and interaction routing.
//   - API: Provides a small read-only status API.
//   - database: Handles data persistence and retrieval.
//
// The bot supports three commands:
//
//   - /create-subject: Provisions a forum channel and matching helper role
//     from a name, hex color, and emoji.
//   - /become-helper: Presents an ephemeral subject picker and grants the
//     chosen helper role to the requester.
//   - /whip-slaves: Pings a subject's helper role from inside one of that
//     subject's forum threads.
//
// Command executions are persisted as audit records, and users are tracked
// in a local database with a points counter reserved for future use.
package morisslave
