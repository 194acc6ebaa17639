// Package schema declares document classes: property descriptors with
// access bits, index prefixes and slots, typecasts and localization.
// A Metadata value is built once at startup and validated at that point,
// so writes never meet an unknown property shape.
package schema
