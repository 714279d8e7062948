package crisis

// SafetyResponse is the fixed response for crisis turns. It is returned
// verbatim, bypassing planning and synthesis entirely, so its wording
// never depends on any backend being reachable.
const SafetyResponse = `I'm really glad you told me, and I'm concerned about what you're going through. You don't have to carry this alone, and support is available right now:

- 988 Suicide Crisis Helpline: call or text 988, any time, day or night
- Talk Suicide Canada: 1-833-456-4566
- Crisis Text Line: text HOME to 741741
- If you are in immediate danger, please call 911

Please reach out to one of these services, or to someone you trust, right now. Your life matters, and people are ready to help.`
