package execution

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func NewActionID() string {
	return fmt.Sprintf("act_%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
}
