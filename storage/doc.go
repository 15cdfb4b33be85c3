// Package storage manages the shared volume mounted into every executor pod.
//
// Input files are staged under the shared root before a job is created, and
// output artifacts written by guests under {root}/output are read back and
// returned base64 encoded.
package storage
