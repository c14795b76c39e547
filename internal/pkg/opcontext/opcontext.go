package opcontext

import "github.com/gofiber/fiber/v2"

// Locals keys shared between the auth middleware and controllers
const (
	ContextKey    = "OPERATOR_CONTEXT"
	KeyOperatorID = "operator_id"
	KeyName       = "operator_name"
	KeyIsAdmin    = "isAdmin"
)

// OperatorContext represents the authenticated operator for a request
type OperatorContext struct {
	OperatorID      uint   `json:"operator_id"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsAdmin         bool   `json:"is_admin"`
	AuthMethod      string `json:"auth_method"` // "jwt" or "api_key"
}

// Set stores the operator context on the request
func Set(c *fiber.Ctx, ctx OperatorContext) {
	c.Locals(ContextKey, ctx)
	c.Locals(KeyOperatorID, ctx.OperatorID)
	c.Locals(KeyName, ctx.Name)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
}

// Get retrieves the operator context from fiber context
// Returns an unauthenticated context if none is set
func Get(c *fiber.Ctx) OperatorContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		if oc, ok := ctx.(OperatorContext); ok {
			return oc
		}
	}
	return OperatorContext{}
}

// IsAuthenticated checks if the current request carries a valid operator
func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).IsAuthenticated
}

// IsAdmin checks if the current operator holds the admin role
func IsAdmin(c *fiber.Ctx) bool {
	return Get(c).IsAdmin
}

// GetOperatorID returns the current operator's ID, or 0 if unauthenticated
func GetOperatorID(c *fiber.Ctx) uint {
	return Get(c).OperatorID
}

// GetName returns the current operator's name, or empty if unauthenticated
func GetName(c *fiber.Ctx) string {
	return Get(c).Name
}
