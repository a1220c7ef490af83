package validate

import "errors"

// GroupTargetMessage is reported when a group request names no target.
const GroupTargetMessage = "Invalid value, you can use `id` or `name`"

// SendMessage validates POST /send-message.
var SendMessage = Ruleset{
	{Field: "number", Rule: NotEmpty()},
	{Field: "message", Rule: NotEmpty()},
}

// SendGroupMessage validates POST /send-group-message. Supplying both id and
// name passes; the id wins downstream.
var SendGroupMessage = Ruleset{
	{Field: "id", Rule: Custom(func(value string, all Fields) error {
		if value == "" && all["name"] == "" {
			return errors.New(GroupTargetMessage)
		}
		return nil
	})},
	{Field: "message", Rule: NotEmpty()},
}

// ClearMessage validates POST /clear-message.
var ClearMessage = Ruleset{
	{Field: "number", Rule: NotEmpty()},
}
