package rules

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"guardrail/internal/ast"
	"guardrail/internal/callgraph"
)

const DBConnPerRequestRuleID = "db_conn_per_request"

var dbConnectCalls = map[string]string{
	"sqlite3.connect":       "Use a connection pool (e.g. sqlalchemy.create_engine with pool_size)",
	"psycopg2.connect":      "Use psycopg2.pool.SimpleConnectionPool or SQLAlchemy pooling",
	"pymysql.connect":       "Use SQLAlchemy connection pooling or DBUtils.PooledDB",
	"mysql.connector.connect": "Use mysql.connector.pooling.MySQLConnectionPool",
	"cx_Oracle.connect":     "Use cx_Oracle.SessionPool",
	"pymongo.MongoClient":   "Instantiate MongoClient once at module level, not per request",
	"redis.Redis":           "Use a shared Redis connection pool (redis.ConnectionPool)",
	"redis.StrictRedis":     "Use a shared Redis connection pool (redis.ConnectionPool)",
}

var handlerDecorators = map[string]bool{
	"app.get": true, "app.post": true, "app.put": true, "app.delete": true, "app.patch": true,
	"router.get": true, "router.post": true, "router.put": true, "router.delete": true, "router.patch": true,
	"route": true, "get": true, "post": true, "put": true, "delete": true,
	"app.route": true, "blueprint.route": true,
}

func isHandler(decorators []string) bool {
	for _, d := range decorators {
		lower := strings.Trim(strings.ToLower(d), "@")
		for handler := range handlerDecorators {
			if strings.Contains(lower, handler) {
				return true
			}
		}
	}
	return false
}

// isHandlerByCalls approximates the reference implementation's fallback of
// treating any decorator string present on func.calls as a handler marker
// (a quirk of the original rule kept for behavioral fidelity).
func isHandlerByCalls(calls []string) bool {
	for _, c := range calls {
		lower := strings.ToLower(c)
		for handler := range handlerDecorators {
			if strings.Contains(lower, handler) {
				return true
			}
		}
	}
	return false
}

// CheckDBConnPerRequest flags raw DB connection calls created inside
// request-handler functions: connection exhaustion under load without pooling.
func CheckDBConnPerRequest(mod *ast.ModuleAST, _ *callgraph.Graph) []Violation {
	var violations []Violation

	var handlerFuncs []*ast.FunctionDef
	for i := range mod.Functions {
		fn := &mod.Functions[i]
		if isHandler(fn.Decorators) || isHandlerByCalls(fn.Calls) {
			handlerFuncs = append(handlerFuncs, fn)
		}
	}
	for ci := range mod.Classes {
		for mi := range mod.Classes[ci].Methods {
			m := &mod.Classes[ci].Methods[mi]
			if isHandler(m.Decorators) || isHandlerByCalls(m.Calls) {
				handlerFuncs = append(handlerFuncs, m)
			}
		}
	}

	for _, fn := range handlerFuncs {
		root, src := parseBody(fn.BodySource)
		if root == nil {
			continue
		}

		walkCalls(root, src, func(call *sitter.Node) {
			name := callName(call.ChildByFieldName("function"), src)
			fix, dangerous := dbConnectCalls[name]
			if !dangerous {
				return
			}

			violations = append(violations, Violation{
				RuleID:   DBConnPerRequestRuleID,
				Severity: SeverityCritical,
				File:     mod.FilePath,
				Line:     fn.Line + int(call.StartPoint().Row),
				Title:    fmt.Sprintf("DB connection '%s()' created per request in '%s'", name, fn.Name),
				Description: fmt.Sprintf(
					"'%s()' creates a new database connection on every request inside handler '%s'. "+
						"Under load this causes connection exhaustion, pool starvation, and service "+
						"degradation. Fix: %s",
					name, fn.Name, fix,
				),
				Evidence: []string{
					fmt.Sprintf("Handler: %s", fn.QualifiedName),
					fmt.Sprintf("DB call: %s()", name),
					fmt.Sprintf("Fix: %s", fix),
					"Creates new connection per request — not pooled",
				},
				AffectedFunction: fn.QualifiedName,
				Metadata:         map[string]interface{}{"failure_class": "resource_exhaustion"},
			})
		})
	}

	return violations
}
