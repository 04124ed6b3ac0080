// Package model holds the domain objects built from verified manifests:
// users, containers, storage descriptors, and bridges. Constructors
// accept only trusted manifests; everything below this package can
// assume signatures were already checked.
package model
