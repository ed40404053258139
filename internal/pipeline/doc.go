// Package pipeline runs the beach scoring pass: one hazard feed fetch, a paced
// weather request per catalog entry with rate-limit backoff, scoring, a stable
// sort by score and an atomic snapshot write.
//
// A run either persists a snapshot covering every catalog entry or aborts
// without touching the previous one. It aborts when the weather credentials are
// rejected on the first entry or when too few entries received weather.
package pipeline
