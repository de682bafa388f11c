// Package tabular turns delimited mission exports into field-keyed records.
//
// Parse is the default, lenient reader: it splits lines on \n or \r\n, strips
// one leading and one trailing double quote from every cell and trims it, and
// zips cells with the header by position. Missing cells become "", surplus
// cells are dropped. A delimiter inside a quoted cell still splits the cell;
// existing imports depend on that behaviour, so it is kept as-is.
//
// ParseStrict is the opt-in RFC 4180 reader for exports that quote commas.
//
// Records remember the header order so that column resolution can try
// headers in the order the source file listed them.
package tabular
