// Package importer provides the per-instance import machinery: the module
// table and the ordered finder chain consulted for names the table does not
// hold.
package importer
