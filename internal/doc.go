// Package internal contains the core implementation packages for scaffolder.
//
// # Package Organization
//
//   - descriptor: Template descriptor model, parsing, schema validation
//   - catalog: Template discovery across local directories and remote sources
//   - variables: Layered variable resolution with schema validation
//   - compiler: Template compilation with inheritance, partials and caching
//   - processor: Concurrent rendering or copying of a template tree
//   - hooks: Lifecycle shell commands
//   - pipeline: The generation orchestrator tying the above together
//   - events: Lifecycle event bus and its WebSocket stream
//   - cache: Generic TTL and LRU cache shared by catalog, compiler and variables
//   - watcher: Debounced file system monitoring
//   - config, logging, errors, validation, version: Shared infrastructure
//
// # Data Flow
//
// A generation resolves the template through the catalog, validates its
// descriptor, resolves variables against the descriptor's schemas, prepares
// the output directory, processes the files and finally runs post_generate
// hooks. The pipeline package is the only one holding references to all
// the others; each stage reports to the event bus.
//
// # Security Considerations
//
//   - Every destination path is joined through validation.SafeJoin
//   - Archive entries from remote sources are checked for traversal
//   - Descriptors with a failed security scan are rejected
//   - Secret variables are kept in their own layer, apart from the user layer
package internal
