// Package packet reads and writes the tar envelopes that carry sync
// records between nodes. A packet is a tar archive, optionally gzip or
// bzip2 compressed, holding record entries and a trailing header file.
// The writer enforces a byte budget and reports DiskFull while keeping
// the archive well formed, so partial packets can be shipped and
// resumed.
package packet
